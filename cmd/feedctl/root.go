package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/unifeed/pkg/client"
	"github.com/Sternrassler/unifeed/pkg/feed"
	"github.com/Sternrassler/unifeed/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app is shared by all subcommands of one invocation.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        appConfig
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "feedctl",
		Short: "feedctl - unified document feed client",
		Long: `feedctl browses the unified document feed page by page, warms the
shared response cache and serves the feed through a caching proxy.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.v, a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg

			logging.Setup(logging.Config{
				Level:  logging.LogLevel(cfg.LogLevel),
				Pretty: cfg.LogPretty,
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	flags.String("base-url", defaultBaseURL, "Feed API base URL")
	flags.String("token", "", "API token; requests are anonymous without it")
	flags.String("redis", "", "Redis address for the shared cache and rate limit (empty disables both)")
	flags.String("log-level", "warn", "Log level: debug, info, warn, error, disabled")

	for key, flag := range map[string]string{
		"base_url":   "base-url",
		"auth_token": "token",
		"redis_addr": "redis",
		"log_level":  "log-level",
	} {
		// Lookup never fails for the flags declared above.
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(newBrowseCmd(a))
	root.AddCommand(newWarmCmd(a))
	root.AddCommand(newProxyCmd(a))
	root.AddCommand(newVersionCmd())

	return root
}

// newClient builds the API client. The returned Redis client is nil when no
// address is configured; close releases both.
func (a *app) newClient(ctx context.Context) (api *client.Client, rdb *redis.Client, closeFn func(), err error) {
	cfg := a.cfg.clientConfig()

	if a.cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, nil, fmt.Errorf("connect to redis at %s: %w", a.cfg.RedisAddr, err)
		}
		cfg.Redis = rdb
	}

	api, err = client.New(cfg)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, nil, nil, fmt.Errorf("create client: %w", err)
	}

	closeFn = func() {
		api.Close()
		if rdb != nil {
			rdb.Close()
		}
	}
	return api, rdb, closeFn, nil
}

// filterFlags are the filter dimensions accepted on the command line.
type filterFlags struct {
	docType  string
	hub      string
	ordering string
	scope    string
	myHubs   bool
}

func addFilterFlags(cmd *cobra.Command) *filterFlags {
	ff := &filterFlags{}
	cmd.Flags().StringVar(&ff.docType, "type", "all", "Document type: all, paper, posts, hypothesis, question, bounties")
	cmd.Flags().StringVar(&ff.hub, "hub", "all", "Hub id or 'all'")
	cmd.Flags().StringVar(&ff.ordering, "sort", "hot", "Ordering: hot, new, top, discussed")
	cmd.Flags().StringVar(&ff.scope, "time", "day", "Time scope: day, week, month, year, all")
	cmd.Flags().BoolVar(&ff.myHubs, "my-hubs", false, "Only documents of subscribed hubs")
	return ff
}

func (ff *filterFlags) filters(loggedIn bool) (feed.Filters, error) {
	f := feed.DefaultFilters()
	var err error

	if f.DocType, err = feed.ParseDocType(ff.docType); err != nil {
		return feed.Filters{}, err
	}
	if f.HubID, err = parseHub(ff.hub); err != nil {
		return feed.Filters{}, err
	}
	if f.Ordering, err = feed.ParseOrdering(ff.ordering); err != nil {
		return feed.Filters{}, err
	}
	if f.TimeScope, err = feed.ParseTimeScope(ff.scope); err != nil {
		return feed.Filters{}, err
	}
	f.SubscribedHubs = ff.myHubs
	f.LoggedIn = loggedIn
	return f, nil
}

// parseHub accepts a positive hub id or "all".
func parseHub(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid hub %q: want a positive id or 'all'", s)
	}
	return id, nil
}
