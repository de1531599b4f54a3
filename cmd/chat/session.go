package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/zhouzirui/roomchat/internal/model/chat"
	"github.com/zhouzirui/roomchat/internal/service/room"
	"github.com/zhouzirui/roomchat/pkg/utils"
)

var errQuit = errors.New("quit")

// sender is the part of room.Manager the session writes through.
type sender interface {
	Send(ctx context.Context, text, username string, metadata map[string]any) error
}

// session renders one room subscription to out and turns input lines into
// messages or slash commands.
type session struct {
	facade   *room.Facade
	sender   sender
	out      io.Writer
	username string
	width    int

	sub       *room.Subscription
	seen      map[string]struct{}
	connected bool
}

func newSession(facade *room.Facade, s sender, out io.Writer, username string, width int) *session {
	return &session{
		facade:   facade,
		sender:   s,
		out:      out,
		username: username,
		width:    width,
		seen:     make(map[string]struct{}),
	}
}

// updates returns the active subscription's channel, or nil before any join.
func (s *session) updates() <-chan room.ReadModel {
	if s.sub == nil {
		return nil
	}
	return s.sub.Updates()
}

func (s *session) join(ctx context.Context, name string) error {
	sub, err := s.facade.Subscribe(ctx, name)
	if err != nil {
		return err
	}
	if s.sub != nil {
		s.sub.Close()
	}
	s.sub = sub
	s.seen = make(map[string]struct{})
	s.connected = false
	fmt.Fprintln(s.out, noticeStyle.Render("* joining "+name))
	return nil
}

func (s *session) leave() {
	if s.sub == nil {
		return
	}
	fmt.Fprintln(s.out, noticeStyle.Render("* left "+s.sub.Room()))
	s.sub.Close()
	s.sub = nil
}

func (s *session) close() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

// render prints connection changes and every message not printed before.
func (s *session) render(model room.ReadModel) {
	if model.Connected != s.connected {
		s.connected = model.Connected
		if model.Connected {
			fmt.Fprintln(s.out, noticeStyle.Render("* connected to "+s.sub.Room()))
		} else if s.sub != nil {
			fmt.Fprintln(s.out, noticeStyle.Render("* disconnected from "+s.sub.Room()+" (use /join to reconnect)"))
		}
	}
	for _, msg := range model.Messages {
		if _, ok := s.seen[msg.ID]; ok {
			continue
		}
		s.seen[msg.ID] = struct{}{}
		fmt.Fprintln(s.out, s.formatMessage(msg))
	}
}

func (s *session) formatMessage(msg chat.Message) string {
	clock := msg.Timestamp
	if t, err := time.Parse(chat.TimestampLayout, msg.Timestamp); err == nil {
		clock = t.Local().Format("15:04:05")
	}
	return fmt.Sprintf("%s %s: %s",
		clockStyle.Render("["+clock+"]"),
		nameStyle(msg.Username).Render(msg.Username),
		utils.Truncate(msg.Content, s.width, "..."))
}

// handleLine executes one input line. It returns errQuit for /quit.
func (s *session) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.sender.Send(ctx, line, s.username, nil)
	}

	args, err := shellwords.Parse(line[1:])
	if err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	if len(args) == 0 {
		return nil
	}

	switch args[0] {
	case "quit", "exit":
		return errQuit
	case "join":
		if len(args) != 2 {
			return errors.New("usage: /join <room>")
		}
		return s.join(ctx, args[1])
	case "leave":
		s.leave()
		return nil
	case "nick":
		if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
			return errors.New("usage: /nick <name>")
		}
		s.username = args[1]
		fmt.Fprintln(s.out, noticeStyle.Render("* you are now "+s.username))
		return nil
	case "help":
		fmt.Fprintln(s.out, "commands: /join <room>, /leave, /nick <name>, /quit")
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// run drives the session until ctx ends, input closes or /quit.
func (s *session) run(ctx context.Context, lines <-chan string) error {
	defer s.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case model, ok := <-s.updates():
			if ok {
				s.render(model)
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := s.handleLine(ctx, line)
			switch {
			case errors.Is(err, errQuit):
				return nil
			case errors.Is(err, room.ErrNotConnected):
				fmt.Fprintln(s.out, errorStyle.Render("! not connected, message not sent"))
			case err != nil:
				fmt.Fprintln(s.out, errorStyle.Render("! "+err.Error()))
			}
		}
	}
}
