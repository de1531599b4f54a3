package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhouzirui/roomchat/internal/config"
	chatservice "github.com/zhouzirui/roomchat/internal/service/chat"
	"github.com/zhouzirui/roomchat/internal/service/room"
)

const (
	wsURLKey            = "ws_url"
	roomKey             = "room"
	usernameKey         = "username"
	widthKey            = "width"
	handshakeTimeoutKey = "handshake_timeout"
	readTimeoutKey      = "read_timeout"
	writeTimeoutKey     = "write_timeout"
	pingIntervalKey     = "ping_interval"
)

// clientSettings is the resolved configuration after flags, env, config file
// and defaults have been merged.
type clientSettings struct {
	config.ClientConfig
	Width int
}

// newRootCmd builds the chat command. defaults come from config.Load.
func newRootCmd(defaults config.ClientConfig, in io.Reader, out io.Writer) *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a chat room from the terminal",
		Long: `chat connects to a room server over a websocket and prints every message
of the room. Lines typed on stdin are sent to the room; lines starting with /
are commands (/join, /leave, /nick, /quit).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(v, cfgFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), settings, in, out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.roomchat.yaml)")
	flags.String("url", defaults.WSURL, "websocket base URL of the room server")
	flags.StringP("room", "r", defaults.Room, "room to join")
	flags.StringP("user", "u", defaults.Username, "username to post as")
	flags.Int("width", 200, "truncate rendered messages to this many characters")
	flags.Duration("handshake-timeout", defaults.HandshakeTimeout, "websocket handshake timeout")
	flags.Duration("read-timeout", defaults.ReadTimeout, "read deadline, 0 disables")
	flags.Duration("write-timeout", defaults.WriteTimeout, "write deadline, 0 disables")
	flags.Duration("ping-interval", defaults.PingInterval, "keepalive ping interval, 0 disables")

	v.BindPFlag(wsURLKey, flags.Lookup("url"))
	v.BindPFlag(roomKey, flags.Lookup("room"))
	v.BindPFlag(usernameKey, flags.Lookup("user"))
	v.BindPFlag(widthKey, flags.Lookup("width"))
	v.BindPFlag(handshakeTimeoutKey, flags.Lookup("handshake-timeout"))
	v.BindPFlag(readTimeoutKey, flags.Lookup("read-timeout"))
	v.BindPFlag(writeTimeoutKey, flags.Lookup("write-timeout"))
	v.BindPFlag(pingIntervalKey, flags.Lookup("ping-interval"))

	v.SetDefault(wsURLKey, defaults.WSURL)
	v.SetDefault(roomKey, defaults.Room)
	v.SetDefault(usernameKey, defaults.Username)
	v.SetDefault(widthKey, 200)
	v.SetDefault(handshakeTimeoutKey, defaults.HandshakeTimeout)
	v.SetDefault(readTimeoutKey, defaults.ReadTimeout)
	v.SetDefault(writeTimeoutKey, defaults.WriteTimeout)
	v.SetDefault(pingIntervalKey, defaults.PingInterval)

	return cmd
}

// loadSettings reads the optional config file and resolves every key.
func loadSettings(v *viper.Viper, cfgFile string, stderr io.Writer) (clientSettings, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".roomchat")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return clientSettings{}, fmt.Errorf("error reading config file: %w", err)
		}
		if cfgFile != "" {
			fmt.Fprintln(stderr, "Config file not found, using flags and environment variables.")
		}
	}

	settings := clientSettings{
		ClientConfig: config.ClientConfig{
			WSURL:            v.GetString(wsURLKey),
			Room:             v.GetString(roomKey),
			Username:         v.GetString(usernameKey),
			HandshakeTimeout: v.GetDuration(handshakeTimeoutKey),
			ReadTimeout:      v.GetDuration(readTimeoutKey),
			WriteTimeout:     v.GetDuration(writeTimeoutKey),
			PingInterval:     v.GetDuration(pingIntervalKey),
		},
		Width: v.GetInt(widthKey),
	}
	if settings.WSURL == "" {
		return clientSettings{}, fmt.Errorf("ws_url must not be empty")
	}
	if settings.Username == "" {
		return clientSettings{}, fmt.Errorf("username must not be empty")
	}
	return settings, nil
}

func runChat(ctx context.Context, settings clientSettings, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer := room.NewWebSocketDialer(&room.Options{
		HandshakeTimeout: settings.HandshakeTimeout,
		ReadTimeout:      settings.ReadTimeout,
		WriteTimeout:     settings.WriteTimeout,
		PingInterval:     settings.PingInterval,
	})
	store := chatservice.NewStore()
	manager := room.NewManager(settings.WSURL, dialer, store)
	defer manager.Close()

	facade := room.NewFacade(manager, store)
	defer facade.Close()

	s := newSession(facade, manager, out, settings.Username, settings.Width)
	if err := s.join(ctx, settings.Room); err != nil {
		return err
	}
	return s.run(ctx, scanLines(ctx, in))
}

func scanLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
