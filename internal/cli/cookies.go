package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tikalk/timewatch/internal/cookies"
	"golang.org/x/net/publicsuffix"
)

// ListOptions holds options for the list command.
type ListOptions struct {
	BySite bool
	JSON   bool
}

func newListCommand(a *app) *cobra.Command {
	opts := &ListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every unexpired cookie",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withJar(func(jar *cookies.PersistentJar) error {
				all := jar.All()
				out := cmd.OutOrStdout()
				if opts.JSON {
					return writeJSON(out, all)
				}
				if opts.BySite {
					return writeBySite(out, all)
				}
				return writeTable(out, all)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.BySite, "by-site", false, "Group cookies by registrable domain")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output as JSON")

	return cmd
}

func newGetCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Show the cookies a request to URL would carry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := parseRequestURL(args[0])
			if err != nil {
				return err
			}
			return a.withJar(func(jar *cookies.PersistentJar) error {
				got := jar.Get(u)
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), got)
				}
				return writeTable(cmd.OutOrStdout(), got)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newSetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "set URL SET-COOKIE...",
		Short:   "Store cookies as if URL had answered with these Set-Cookie headers",
		Example: `  timejar set https://time.infra.tikalk.dev/login.php 'sid=abc; Path=/; Max-Age=3600'`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := parseRequestURL(args[0])
			if err != nil {
				return err
			}

			now := time.Now()
			var parsed []*cookies.Cookie
			for _, raw := range args[1:] {
				cs := cookies.ParseCookies(raw, now)
				if len(cs) == 0 {
					return fmt.Errorf("%w: %q", cookies.ErrInvalidCookie, raw)
				}
				parsed = append(parsed, cs...)
			}

			return a.withJar(func(jar *cookies.PersistentJar) error {
				for _, c := range parsed {
					result := jar.Put(u, c)
					if result == cookies.Rejected {
						return fmt.Errorf("cookie %s rejected for %s", c.Name, u.Host)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s under %s\n", result, c.Name, cookies.EffectiveURI(u))
				}
				return nil
			})
		},
	}
}

// RemoveOptions holds options for the rm command.
type RemoveOptions struct {
	Domain string
	Path   string
}

func newRemoveCommand(a *app) *cobra.Command {
	opts := &RemoveOptions{}

	cmd := &cobra.Command{
		Use:   "rm URL NAME",
		Short: "Remove a cookie that get would list for URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := parseRequestURL(args[0])
			if err != nil {
				return err
			}
			name := args[1]

			return a.withJar(func(jar *cookies.PersistentJar) error {
				removed := 0
				for _, c := range jar.Get(u) {
					if !strings.EqualFold(c.Name, name) {
						continue
					}
					if opts.Domain != "" && !strings.EqualFold(c.Domain, opts.Domain) {
						continue
					}
					if opts.Path != "" && c.Path != opts.Path {
						continue
					}
					if jar.Delete(c) {
						removed++
					}
				}
				if removed == 0 {
					return fmt.Errorf("no cookie %q found for %s", name, cookies.EffectiveURI(u))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d cookie(s)\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Domain, "domain", "", "Only remove the cookie with this domain attribute")
	cmd.Flags().StringVar(&opts.Path, "path", "", "Only remove the cookie with this path")

	return cmd
}

func newURIsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "uris",
		Short: "List the hosts that hold cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withJar(func(jar *cookies.PersistentJar) error {
				for _, u := range jar.URIs() {
					fmt.Fprintln(cmd.OutOrStdout(), u)
				}
				return nil
			})
		},
	}
}

func newClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cookie",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withJar(func(jar *cookies.PersistentJar) error {
				if jar.RemoveAll() {
					fmt.Fprintln(cmd.OutOrStdout(), "cookie store cleared")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "cookie store was already empty")
				}
				return nil
			})
		},
	}
}

// parseRequestURL parses an absolute URL with a host.
func parseRequestURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return u, nil
}

func writeJSON(w io.Writer, cs []*cookies.Cookie) error {
	if cs == nil {
		cs = []*cookies.Cookie{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"cookies": cs})
}

func writeTable(w io.Writer, cs []*cookies.Cookie) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVALUE\tDOMAIN\tPATH\tEXPIRES\tFLAGS")
	for _, c := range cs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Name, c.Value, c.Domain, c.Path, expiry(c), flagSummary(c))
	}
	return tw.Flush()
}

// writeBySite groups cookies under their eTLD+1.
func writeBySite(w io.Writer, cs []*cookies.Cookie) error {
	groups := make(map[string][]*cookies.Cookie)
	for _, c := range cs {
		site := siteOf(c.Domain)
		groups[site] = append(groups[site], c)
	}

	sites := make([]string, 0, len(groups))
	for s := range groups {
		sites = append(sites, s)
	}
	sort.Strings(sites)

	for i, s := range sites {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "# %s\n", s)
		if err := writeTable(w, groups[s]); err != nil {
			return err
		}
	}
	return nil
}

func siteOf(domain string) string {
	host := strings.TrimPrefix(strings.ToLower(domain), ".")
	if host == "" {
		return "(no domain)"
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}

func expiry(c *cookies.Cookie) string {
	if c.IsSession() {
		return "session"
	}
	return c.Expires.UTC().Format(time.RFC3339)
}

func flagSummary(c *cookies.Cookie) string {
	var f []string
	if c.Secure {
		f = append(f, "secure")
	}
	if c.HttpOnly {
		f = append(f, "httponly")
	}
	if c.Version > 0 {
		f = append(f, fmt.Sprintf("v%d", c.Version))
	}
	if len(f) == 0 {
		return "-"
	}
	return strings.Join(f, ",")
}
