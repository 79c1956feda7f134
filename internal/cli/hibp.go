package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/pacer/internal/cache"
	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/config"
	"github.com/SmitUplenchwar2687/pacer/internal/hibp"
	"github.com/SmitUplenchwar2687/pacer/internal/logger"
)

// hibpOptions are the flags shared by the hibp subcommands.
type hibpOptions struct {
	configPath   string
	apiKey       string
	userAgent    string
	baseURL      string
	passwordsURL string
	cache        cacheOptions
}

func (o *hibpOptions) addFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "path to YAML config file")
	f.StringVar(&o.apiKey, "api-key", "", "HIBP API key (or PACER_HIBP_API_KEY)")
	f.StringVar(&o.userAgent, "user-agent", "", "User-Agent sent to HIBP")
	f.StringVar(&o.baseURL, "base-url", "", "HIBP API base URL")
	f.StringVar(&o.passwordsURL, "passwords-url", "", "Pwned Passwords base URL")
	o.cache.addFlags(f)
}

// session is a configured client and the resources to release after use.
type session struct {
	client *hibp.Client
	close  func()
}

func (o *hibpOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("api-key") {
		cfg.HIBP.APIKey = o.apiKey
	}
	if flags.Changed("user-agent") {
		cfg.HIBP.UserAgent = o.userAgent
	}
	if flags.Changed("base-url") {
		cfg.HIBP.BaseURL = o.baseURL
	}
	if flags.Changed("passwords-url") {
		cfg.HIBP.PasswordsURL = o.passwordsURL
	}
	o.cache.applyConfigIfUnset(cmd, cfg.Cache)
	cacheCfg, err := o.cache.toConfig(cfg.Cache)
	if err != nil {
		return nil, err
	}

	log, closer, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, err
	}

	cc, err := cache.New(cacheCfg, clock.NewRealClock())
	if err != nil {
		closer.Close()
		return nil, err
	}

	client, err := hibp.New(cfg.HIBP.UserAgent,
		hibp.WithAPIKey(cfg.HIBP.APIKey),
		hibp.WithTimeout(cfg.HIBP.Timeout),
		hibp.WithBaseURL(cfg.HIBP.BaseURL),
		hibp.WithPasswordsURL(cfg.HIBP.PasswordsURL),
		hibp.WithCache(cc, cacheCfg.TTL),
		hibp.WithLogger(log),
	)
	if err != nil {
		if cc != nil {
			cc.Close()
		}
		closer.Close()
		return nil, err
	}

	return &session{
		client: client,
		close: func() {
			if cc != nil {
				if err := cc.Close(); err != nil {
					log.Warn("closing cache", "error", err)
				}
			}
			closer.Close()
		},
	}, nil
}

func newHIBPCmd() *cobra.Command {
	var o hibpOptions

	cmd := &cobra.Command{
		Use:   "hibp",
		Short: "Query Have I Been Pwned through the rate limiter",
		Long: `Looks up accounts, breaches and passwords on Have I Been Pwned. Every
request first takes a token from the client's limiter, and a 429 from
the API pauses the limiter for the advertised Retry-After.

Account, paste and subscription lookups need an API key.`,
	}
	o.addFlags(cmd)

	breachCmd := &cobra.Command{
		Use:     "breach <account>",
		Short:   "List the breaches an account appears in",
		Args:    cobra.ExactArgs(1),
		Example: `  pacer hibp breach test@example.com --api-key $KEY`,
		RunE: func(cmd *cobra.Command, args []string) error {
			full, _ := cmd.Flags().GetBool("full")
			return withSession(cmd, &o, func(s *session) error {
				breaches, err := s.client.BreachedAccount(cmd.Context(), args[0], !full)
				if errors.Is(err, hibp.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: no breaches found\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), breaches)
			})
		},
	}
	breachCmd.Flags().Bool("full", false, "return full breach details instead of names only")

	pastesCmd := &cobra.Command{
		Use:   "pastes <email>",
		Short: "List the pastes an email address appears in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, &o, func(s *session) error {
				pastes, err := s.client.PasteAccount(cmd.Context(), args[0])
				if errors.Is(err, hibp.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: no pastes found\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pastes)
			})
		},
	}

	breachesCmd := &cobra.Command{
		Use:   "breaches [name]",
		Short: "Show one breach by name, or the breach catalog",
		Args:  cobra.MaximumNArgs(1),
		Example: `  pacer hibp breaches Adobe
  pacer hibp breaches --domain adobe.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, _ := cmd.Flags().GetString("domain")
			return withSession(cmd, &o, func(s *session) error {
				if len(args) == 1 {
					b, err := s.client.Breach(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), b)
				}
				breaches, err := s.client.Breaches(cmd.Context(), domain)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), breaches)
			})
		},
	}
	breachesCmd.Flags().String("domain", "", "only breaches of this domain")

	passwordCmd := &cobra.Command{
		Use:   "password",
		Short: "Check a password read from stdin against Pwned Passwords",
		Long: `Reads one password per line from stdin and prints how many times each
appears in Pwned Passwords. Only the first five characters of the SHA-1
hash leave the machine.`,
		Example: `  echo -n 'hunter2' | pacer hibp password`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, &o, func(s *session) error {
				return checkPasswords(cmd, s.client, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}

	subscriptionCmd := &cobra.Command{
		Use:   "subscription",
		Short: "Show the API key's subscription status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, &o, func(s *session) error {
				st, err := s.client.SubscriptionStatus(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}

	cmd.AddCommand(breachCmd, pastesCmd, breachesCmd, passwordCmd, subscriptionCmd)
	return cmd
}

func withSession(cmd *cobra.Command, o *hibpOptions, fn func(*session) error) error {
	s, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(s)
}

func checkPasswords(cmd *cobra.Command, client *hibp.Client, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	checked := 0
	for sc.Scan() {
		pw := strings.TrimRight(sc.Text(), "\r")
		if pw == "" {
			continue
		}
		n, err := client.PasswordCount(cmd.Context(), pw)
		if err != nil {
			return err
		}
		checked++
		if n == 0 {
			fmt.Fprintf(out, "#%d: not found\n", checked)
		} else {
			fmt.Fprintf(out, "#%d: seen %d times\n", checked, n)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading passwords: %w", err)
	}
	if checked == 0 {
		return errors.New("no password on stdin")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
