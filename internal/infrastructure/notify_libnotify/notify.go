package notify_libnotify

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const appName = "--app-name=ci-orchestrator"

type Notifier struct {
	soft bool
	// command is the notify-send binary; tests point it elsewhere.
	command string
}

func New() *Notifier     { return &Notifier{command: "notify-send"} }
func NewSoft() *Notifier { return &Notifier{soft: true, command: "notify-send"} }

type Options struct {
	Urgency string
	Expire  time.Duration
}

func (n *Notifier) Notify(ctx context.Context, title, body, url string) error {
	return n.NotifyWith(ctx, title, body, url, Options{Urgency: UrgencyFor(title)})
}

// NotifyWith is Notify with urgency and expiry hints for notify-send.
func (n *Notifier) NotifyWith(ctx context.Context, title, body, url string, opt Options) error {
	cmd := exec.CommandContext(ctx, n.command, args(title, body, url, opt)...)
	if err := cmd.Run(); err != nil {
		if n.soft {
			return nil
		}
		return err
	}
	return nil
}

// UrgencyFor maps a notification title to a notify-send urgency: failures
// are critical.
func UrgencyFor(title string) string {
	if strings.Contains(title, "failed") {
		return "critical"
	}
	return "normal"
}

func args(title, body, url string, opt Options) []string {
	if strings.TrimSpace(url) != "" {
		if body == "" {
			body = url
		} else {
			body = body + "\n" + url
		}
	}

	out := []string{appName}
	if opt.Urgency != "" {
		out = append(out, "--urgency="+opt.Urgency)
	}
	if opt.Expire > 0 {
		out = append(out, "--expire-time="+strconv.Itoa(int(opt.Expire/time.Millisecond)))
	}
	return append(out, title, body)
}
