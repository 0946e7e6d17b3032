package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/unifeed/pkg/client"
	"github.com/Sternrassler/unifeed/pkg/feed"
	"github.com/Sternrassler/unifeed/pkg/logging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	bold    = color.New(color.Bold)
	dim     = color.New(color.Faint)
	info    = color.New(color.FgCyan)
	warning = color.New(color.FgYellow)
	failure = color.New(color.FgRed)
)

func newBrowseCmd(a *app) *cobra.Command {
	var ff *filterFlags

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse the feed interactively",
		Long: `Browse the feed in a line-oriented session. Type 'more' to reveal the
next batch, change filters with 'type', 'hub', 'sort', 'time' and 'myhubs',
and 'help' for the full command list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			api, _, closeAPI, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer closeAPI()

			filters, err := ff.filters(api.LoggedIn())
			if err != nil {
				return err
			}

			ctrl, err := feed.New(api, a.cfg.feedConfig(), filters,
				feed.WithLogger(logging.NewLogger("feed-controller")))
			if err != nil {
				return err
			}
			defer ctrl.Close()

			b := newBrowser(ctrl, api, cmd.OutOrStdout())
			return b.run(cmd.InOrStdin())
		},
	}
	ff = addFilterFlags(cmd)
	return cmd
}

// browser is the interactive session around one feed view.
type browser struct {
	ctrl *feed.Controller
	api  *client.Client
	out  io.Writer

	epoch   uint64
	printed int
}

func newBrowser(ctrl *feed.Controller, api *client.Client, out io.Writer) *browser {
	return &browser{ctrl: ctrl, api: api, out: out}
}

// run mounts the view and executes commands from in until quit or EOF.
func (b *browser) run(in io.Reader) error {
	b.ctrl.Mount()
	b.settle()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(b.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(b.out)
			return scanner.Err()
		}

		quit, err := b.exec(scanner.Text())
		if err != nil {
			failure.Fprintf(b.out, "error: %v\n", err)
			continue
		}
		if quit {
			return nil
		}
	}
}

// exec runs one command line.
func (b *browser) exec(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	f := b.ctrl.Filters()
	switch strings.ToLower(fields[0]) {
	case "more", "m":
		if !b.ctrl.LoadMore() {
			dim.Fprintln(b.out, "nothing to load")
			return false, nil
		}
		b.settle()
		return false, nil

	case "type":
		if f.DocType, err = feed.ParseDocType(arg); err != nil {
			return false, err
		}
	case "hub":
		if f.HubID, err = parseHub(arg); err != nil {
			return false, err
		}
	case "sort":
		if f.Ordering, err = feed.ParseOrdering(arg); err != nil {
			return false, err
		}
	case "time":
		if f.TimeScope, err = feed.ParseTimeScope(arg); err != nil {
			return false, err
		}
	case "myhubs":
		switch strings.ToLower(arg) {
		case "on":
			f.SubscribedHubs = true
		case "off":
			f.SubscribedHubs = false
		default:
			return false, fmt.Errorf("usage: myhubs on|off")
		}
	case "login":
		if arg == "" {
			return false, fmt.Errorf("usage: login <token>")
		}
		b.api.SetAuthToken(arg)
		f.LoggedIn = true
	case "logout":
		b.api.SetAuthToken("")
		f.LoggedIn = false

	case "show":
		b.printed = 0
		b.render(b.ctrl.View())
		return false, nil
	case "help", "?":
		b.help()
		return false, nil
	case "quit", "exit", "q":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q (try 'help')", fields[0])
	}

	changed, err := b.ctrl.SetFilters(f)
	if err != nil {
		return false, err
	}
	if !changed {
		dim.Fprintln(b.out, "filters unchanged")
		return false, nil
	}
	b.settle()
	return false, nil
}

// settle waits for the fetches started by the last command and renders.
func (b *browser) settle() {
	if v := b.ctrl.View(); v.IsLoading || v.IsLoadingMore {
		dim.Fprintln(b.out, "loading...")
	}
	b.ctrl.Wait()
	b.render(b.ctrl.View())
}

// render prints the items revealed since the last render and a status line.
// A new epoch starts a fresh listing.
func (b *browser) render(v feed.View) {
	if v.Epoch != b.epoch {
		b.epoch = v.Epoch
		b.printed = 0
	}
	if b.printed == 0 {
		bold.Fprintf(b.out, "== %s ==\n", v.Filters)
	}

	if v.Failed {
		failure.Fprintf(b.out, "failed to load feed: %v\n", v.Err)
		return
	}
	if v.Empty() {
		dim.Fprintln(b.out, "no documents")
		return
	}

	if b.printed > len(v.Items) {
		b.printed = len(v.Items)
	}
	for i, doc := range v.Items[b.printed:] {
		fmt.Fprintf(b.out, "%4d. %-10s %s", b.printed+i+1, strings.ToLower(doc.DocumentType), doc.Title())
		dim.Fprintf(b.out, "  (score %d)\n", doc.Score)
	}
	b.printed = len(v.Items)

	switch {
	case v.Err != nil:
		warning.Fprintf(b.out, "load more failed: %v (type 'more' to retry)\n", v.Err)
	case v.CanLoadMore:
		info.Fprintf(b.out, "-- %d shown, type 'more' for the next batch --\n", len(v.Items))
	case v.Filters.HidesLoadMore():
		dim.Fprintln(b.out, "-- log in to page through your hubs --")
	case !v.HasMore && v.Buffered == 0:
		dim.Fprintf(b.out, "-- end of feed (%d documents) --\n", len(v.Items))
	}
}

func (b *browser) help() {
	fmt.Fprint(b.out, `commands:
  more | m              reveal the next batch
  type <t>              all, paper, posts, hypothesis, question, bounties
  hub <id|all>          restrict to one hub
  sort <o>              hot, new, top, discussed
  time <s>              day, week, month, year, all
  myhubs on|off         only subscribed hubs
  login <token>         browse as a logged-in viewer
  logout                browse anonymously
  show                  print the whole visible feed
  quit | q              leave
`)
}
