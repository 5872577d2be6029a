// Command swipe is a terminal client for the match deck. It reads one
// command per line: l (like), p (pass), f (flush), o (online matches), q (quit).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oggyb/studymatch/internal/auth"
	"github.com/oggyb/studymatch/internal/client/api"
	"github.com/oggyb/studymatch/internal/client/batcher"
	"github.com/oggyb/studymatch/internal/client/matchbuffer"
	"github.com/oggyb/studymatch/internal/client/presence"
	"github.com/oggyb/studymatch/internal/config"
	"github.com/oggyb/studymatch/internal/logger"
	"github.com/oggyb/studymatch/internal/pubsub"
	"github.com/oggyb/studymatch/internal/rpc/matchrpc"
)

const (
	pageSize = 10
	lowWater = 3
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger.InitFromConfig(cfg)
	log := logger.With("component", "swipe")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := auth.NewTokens(cfg.Auth)
	token := cfg.Client.Token
	if token == "" && cfg.App.ENV == "development" {
		id, err := strconv.ParseUint(cfg.Client.UserID, 10, 64)
		if err == nil {
			token, _ = tokens.Issue(id)
		}
	}
	if token == "" {
		log.Error("CLIENT_TOKEN is required outside development")
		os.Exit(1)
	}

	client, err := api.Dial(cfg.Client.GRPCAddr, token)
	if err != nil {
		log.Error("failed to dial server", "err", err)
		os.Exit(1)
	}
	defer client.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	bus := pubsub.NewBus(rdb, auth.NewChannelAuthorizer(tokens), log)

	var deck *matchbuffer.Buffer
	queue := batcher.New(client,
		batcher.WithSize(cfg.Client.BatchSize),
		batcher.WithWindow(cfg.Client.Window),
		batcher.WithLogger(log),
		batcher.WithOnMatched(func(a batcher.Action) {
			fmt.Printf("  it's a match with %s!\n", a.TargetUserID)
		}),
		batcher.WithOnRejected(func(a batcher.Action, r batcher.Result) {
			deck.Forget(a.TargetUserID)
			fmt.Printf("  %s on %s was not recorded: %s\n", a.Action, a.TargetUserID, r.Error)
		}),
	)
	deck = matchbuffer.New(queue)

	beacon := api.NewBeacon(cfg.Client.HTTPBase)
	coord := presence.New(cfg.Client.UserID, presence.Deps{
		Bus:       presence.RedisBus(bus),
		Heartbeat: client,
		Statuses:  client,
		Beacon:    beacon,
		Token:     func() string { return token },
	},
		presence.WithLogger(log),
		presence.WithIntervals(cfg.Presence.HeartbeatInterval, cfg.Presence.PollInterval),
		presence.WithOnlineWindow(cfg.Presence.OnlineWindow),
		presence.WithOnChange(func(id string, online bool) {
			fmt.Printf("  %s is now %s\n", id, map[bool]string{true: "online", false: "offline"}[online])
		}),
	)
	coord.Start(ctx)
	watchMatches(ctx, client, coord)
	if notes, err := client.Notifications(ctx); err == nil {
		for _, n := range notes {
			fmt.Printf("* %s (user %s)\n", n.Message, n.ActorUserID)
		}
	}

	defer func() {
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queue.Close(fctx); err != nil {
			log.Warn("pending actions not delivered", "count", len(queue.Pending()), "err", err)
		}
		coord.Close()
		beacon.Wait()
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
		close(lines)
	}()

	for {
		if deck.RemainingCount() < lowWater {
			refill(ctx, client, deck)
		}
		next := deck.GetNext(0)
		if len(next) == 0 {
			fmt.Println("no more candidates; q to quit")
		} else {
			show(next[0])
		}

		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch line {
			case "q":
				return
			case "f":
				if err := queue.Flush(ctx); err != nil {
					fmt.Println("  flush failed, will retry:", err)
				}
			case "o":
				coord.Foreground(ctx)
				fmt.Println("  online:", strings.Join(coord.OnlineIDs(), ", "))
			case "l", "p":
				if len(next) == 0 {
					continue
				}
				action := matchrpc.ActionPass
				if line == "l" {
					action = matchrpc.ActionLike
				}
				deck.GetNext(1)
				if err := deck.ProcessAction(next[0].UserID, action); err != nil {
					fmt.Println("  could not record decision:", err)
				}
			}
		}
	}
}

func refill(ctx context.Context, client *api.Client, deck *matchbuffer.Buffer) {
	fctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cands, _, err := client.FetchMatches(fctx, pageSize)
	if err != nil {
		logger.Warn("fetch matches failed", "err", err)
		return
	}
	deck.AddMatches(cands)
}

func watchMatches(ctx context.Context, client *api.Client, coord *presence.Coordinator) {
	resp, err := client.Matches(ctx, nil)
	if err != nil {
		logger.Warn("list matches failed", "err", err)
		return
	}
	ids := make([]string, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		ids = append(ids, m.UserID)
	}
	coord.Watch(ctx, ids...)
}

func show(c *matchrpc.Candidate) {
	fmt.Printf("\n%s (%d%%) %s, %s year %d\n", c.Name, c.Score, c.Major, c.University, c.Year)
	if len(c.Interests) > 0 {
		fmt.Println("  interests:", strings.Join(c.Interests, ", "))
	}
	if c.Reasoning != "" {
		fmt.Println("  why:", c.Reasoning)
	}
	fmt.Print("[l]ike [p]ass > ")
}
