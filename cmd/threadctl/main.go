package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SplitFi/go-threads/env"
	"github.com/SplitFi/go-threads/service/auth"
	"github.com/SplitFi/go-threads/service/logger"
	"github.com/SplitFi/go-threads/service/persist"
	"github.com/SplitFi/go-threads/service/redis"
	"github.com/SplitFi/go-threads/service/remote"
	"github.com/SplitFi/go-threads/service/thread"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "threadctl",
		Short:         "Read and write comment threads against the comment API",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.InitWithDefaults(true)
			if !env.GetBool("VERBOSE") {
				logger.SetLevel(logrus.WarnLevel)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String("api", "http://localhost:4000", "base url of the comment API")
	flags.Int64("user-id", 0, "id of the acting user")
	flags.String("username", "", "username of the acting user")
	flags.String("token", "", "bearer token forwarded to the comment API")
	flags.String("session", "threadctl", "session the fresh replies are kept under")
	flags.Bool("redis", false, "keep fresh replies in redis (REDIS_URL) between runs")
	flags.StringP("output", "o", "text", "output format: text, yaml or json")
	flags.BoolP("verbose", "v", false, "log remote calls")

	for key, flag := range map[string]string{
		"COMMENT_API_URL": "api",
		"USER_ID":         "user-id",
		"USERNAME":        "username",
		"TOKEN":           "token",
		"SESSION_ID":      "session",
		"USE_REDIS":       "redis",
		"OUTPUT":          "output",
		"VERBOSE":         "verbose",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("FRESHNESS_TTL", "24h")
	viper.SetDefault("AUTH_JWT_TTL", "168h")
	viper.AutomaticEnv()

	root.AddCommand(
		newShowCmd(),
		newReplyCmd(),
		newLikeCmd(),
		newEditCmd(),
		newDeleteCmd(),
		newExpandCmd(),
		newTokenCmd(),
	)
	return root
}

func newShowCmd() *cobra.Command {
	var expand []int64
	cmd := &cobra.Command{
		Use:   "show <post|blog> <target-id>",
		Short: "Print a thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context(), args)
			if err != nil {
				return err
			}
			if err := s.expandAll(expand); err != nil {
				return err
			}
			return s.printThread(cmd)
		},
	}
	cmd.Flags().Int64SliceVar(&expand, "expand", nil, "comment ids to expand before printing")
	return cmd
}

func newReplyCmd() *cobra.Command {
	var parent int64
	var expand []int64
	cmd := &cobra.Command{
		Use:   "reply <post|blog> <target-id> <content>",
		Short: "Post a comment, or a reply with --parent",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd.Context(), args)
			if err != nil {
				return err
			}
			if err := s.expandAll(expand); err != nil {
				return err
			}
			var parentID *persist.CommentID
			if parent != 0 {
				parentID = persist.CommentIDPtr(persist.ConfirmedID(parent))
			}
			c, err := s.engine.Create(s.ctx, strings.Join(args[2:], " "), parentID)
			if err != nil {
				return err
			}
			return printComments(cmd.OutOrStdout(), env.GetString("OUTPUT"), []persist.Comment{c}, nil)
		},
	}
	cmd.Flags().Int64Var(&parent, "parent", 0, "id of the comment to reply to")
	cmd.Flags().Int64SliceVar(&expand, "expand", nil, "comment ids to expand first, needed to reach nested parents")
	return cmd
}

func newLikeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "like <post|blog> <target-id> <comment-id>",
		Short: "Like or unlike a comment",
		Args:  cobra.ExactArgs(3),
		RunE: withComment(func(cmd *cobra.Command, s *session, id persist.CommentID, args []string) error {
			if err := s.engine.ToggleLike(s.ctx, id); err != nil {
				return err
			}
			c, _ := thread.FindNode(s.engine.Snapshot(), id)
			return printComments(cmd.OutOrStdout(), env.GetString("OUTPUT"), []persist.Comment{c}, nil)
		}),
	}
}

func newEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <post|blog> <target-id> <comment-id> <content>",
		Short: "Replace the content of a comment",
		Args:  cobra.MinimumNArgs(4),
		RunE: withComment(func(cmd *cobra.Command, s *session, id persist.CommentID, args []string) error {
			return s.engine.Edit(s.ctx, id, strings.Join(args[3:], " "))
		}),
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <post|blog> <target-id> <comment-id>",
		Short: "Delete a comment and its replies",
		Args:  cobra.ExactArgs(3),
		RunE: withComment(func(cmd *cobra.Command, s *session, id persist.CommentID, args []string) error {
			return s.engine.Delete(s.ctx, id)
		}),
	}
}

func newExpandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expand <post|blog> <target-id> <comment-id>",
		Short: "Load and print every reply of a comment",
		Args:  cobra.ExactArgs(3),
		RunE: withComment(func(cmd *cobra.Command, s *session, id persist.CommentID, args []string) error {
			if err := s.engine.Expand(s.ctx, id); err != nil {
				return err
			}
			replies, err := s.engine.VisibleReplies(id)
			if err != nil {
				return err
			}
			return printComments(cmd.OutOrStdout(), env.GetString("OUTPUT"), replies, nil)
		}),
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Mint an auth token for --user-id with AUTH_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, err := viewerFromConfig()
			if err != nil {
				return err
			}
			if env.GetString("AUTH_JWT_SECRET") == "" {
				return fmt.Errorf("AUTH_JWT_SECRET is not set")
			}
			token, err := auth.GenerateAuthToken(cmd.Context(), viewer)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

// session is one engine bound to the configured viewer, loaded and ready.
type session struct {
	ctx    context.Context
	engine *thread.Engine
}

func newSession(ctx context.Context, args []string) (*session, error) {
	target, err := parseTarget(args[0], args[1])
	if err != nil {
		return nil, err
	}

	viewer, _ := viewerFromConfig()
	ctx = auth.WithViewer(ctx, viewer, env.GetString("TOKEN"))

	var store thread.SessionStore = thread.NewMemorySessionStore()
	if env.GetBool("USE_REDIS") {
		store = thread.NewRedisSessionStore(redis.NewCache(redis.ThreadSessionCache))
	}
	fresh := thread.NewFreshnessTracker(ctx, store, thread.FreshnessKey(env.GetString("SESSION_ID"), target), env.GetDuration("FRESHNESS_TTL"))

	client := remote.NewHTTPClientWithURL(strings.TrimRight(env.GetString("COMMENT_API_URL"), "/"), http.DefaultClient)
	engine := thread.New(thread.Config{
		Target:    target,
		Viewer:    viewer,
		Remote:    client,
		Freshness: fresh,
	}, thread.WithNotifier(thread.NotifierFunc(func(ctx context.Context, n thread.Notice) {
		fmt.Fprintf(os.Stderr, "%s failed: %s\n", n.Op, n.Message)
	})))

	if err := engine.Load(ctx); err != nil {
		return nil, err
	}
	return &session{ctx: ctx, engine: engine}, nil
}

func withComment(fn func(cmd *cobra.Command, s *session, id persist.CommentID, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		n, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid comment id %q", args[2])
		}
		s, err := newSession(cmd.Context(), args)
		if err != nil {
			return err
		}
		return fn(cmd, s, persist.ParseCommentID(n), args)
	}
}

// expandAll expands ids in order, so a nested comment can be reached by listing
// its ancestors first.
func (s *session) expandAll(ids []int64) error {
	for _, id := range ids {
		if err := s.engine.Expand(s.ctx, persist.ConfirmedID(id)); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) printThread(cmd *cobra.Command) error {
	return printComments(cmd.OutOrStdout(), env.GetString("OUTPUT"), s.engine.Snapshot(), s.engine)
}

func parseTarget(kind, rawID string) (persist.Target, error) {
	t := persist.TargetType(kind)
	if !t.IsValid() {
		return persist.Target{}, fmt.Errorf("unknown target type %q", kind)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return persist.Target{}, fmt.Errorf("invalid target id %q", rawID)
	}
	return persist.Target{ID: id, Type: t}, nil
}

func viewerFromConfig() (persist.UserSummary, error) {
	id := int64(env.GetInt("USER_ID"))
	if id <= 0 {
		return persist.UserSummary{}, auth.ErrNoViewer
	}
	return persist.UserSummary{ID: id, Username: env.GetString("USERNAME")}, nil
}
