package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"go.aimuz.me/voicelink/audiocapture"
	"go.aimuz.me/voicelink/chat"
	"go.aimuz.me/voicelink/coordinator"
	"go.aimuz.me/voicelink/internal/app"
	"go.aimuz.me/voicelink/internal/types"
	"go.aimuz.me/voicelink/robot"
	"go.aimuz.me/voicelink/voice"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and chat from the terminal",
	Long: `Connect to the backend and start an interactive session.

Type a message to send it, or one of:
  /listen       record one utterance and send it
  /stop         cancel the recording in progress
  /mute         turn listening mode off
  /history      show the conversation
  /export [dir] write the conversation to a text file
  /clear        forget the conversation
  /robot <id>   route commands to another robot
  /status       show connection and voice state
  /health       show backend health
  /reconnect    reconnect after the connection was lost
  /disconnect   close the connection
  /quit         exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := &console{out: cmd.OutOrStdout()}
		svc, err := app.New(cfg, app.Options{Emit: c.handle})
		if err != nil {
			return err
		}
		defer svc.Shutdown()
		c.svc = svc

		if err := svc.Start(ctx); err != nil {
			return err
		}
		c.printf("voicelink %s, connecting to %s. Type /help for commands.\n", version, cfg.WebSocketURL())
		return c.loop(ctx, cmd.InOrStdin())
	},
}

type console struct {
	svc *app.Service

	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// handle renders service events.
func (c *console) handle(name string, data any) {
	switch ev := data.(type) {
	case coordinator.ConnectionChanged:
		if ev.Connected {
			c.printf("● connected\n")
		} else {
			c.printf("○ disconnected\n")
		}
	case coordinator.ReconnectExhausted:
		c.printf("connection lost after %d attempts, type /reconnect to try again\n", ev.Attempts)
	case coordinator.AutoListeningChanged:
		if !ev.Enabled {
			c.printf("audio needs your go-ahead: type /listen to start talking\n")
		}
	case coordinator.StateRestored:
		c.printf("welcome back\n")
	case chat.Message:
		if ev.Role == chat.RoleAssistant {
			c.printf("ai> %s\n", ev.Content)
		}
	case types.VoiceUpdate:
		switch name {
		case app.EventVoiceStatus:
			if ev.Status == "listening" || ev.Status == "speaking" {
				c.printf("(%s)\n", ev.Status)
			}
		case app.EventTranscript:
			c.printf("… %s\n", ev.Transcript)
		}
	case types.RecordingResult:
		switch {
		case ev.Error != "":
			c.printf("recording failed: %s\n", ev.Error)
		case ev.Sent:
			c.printf("you> %s\n", ev.Transcript)
		case ev.Reason != voice.ReasonManual.String():
			c.printf("nothing heard\n")
		}
	case robot.Activity:
		c.printf("robot: %s\n", ev.Summary())
	case types.RobotSelection:
		c.printf("now controlling robot %s (%s)\n", ev.RobotID, ev.Latency)
	}
}

func (c *console) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.exec(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (c *console) exec(ctx context.Context, line string) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if !c.svc.Send(line) {
			c.printf("not sent (disconnected or repeated)\n")
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		c.printf("%s\n", runCmd.Long)
	case "listen":
		if err := c.svc.StartRecording(ctx); err != nil {
			c.printf("cannot listen: %s\n", describe(err))
		}
	case "stop":
		c.svc.StopRecording()
	case "mute":
		c.svc.SetListening(false)
	case "history":
		for _, m := range c.svc.Messages() {
			c.printf("[%s] %s\n", m.Role.Label(), m.Content)
		}
	case "export":
		dir := arg
		if dir == "" {
			dir = "."
		}
		path, err := c.svc.ExportHistory(dir)
		if err != nil {
			c.printf("%v\n", err)
			return false
		}
		c.printf("saved %s\n", path)
	case "clear":
		c.svc.ClearHistory()
	case "robot":
		if _, err := c.svc.SelectRobot(ctx, arg); err != nil {
			c.printf("%s\n", describe(err))
		}
	case "status":
		st := c.svc.Status()
		c.printf("connected=%v listening=%v auto=%v recording=%v robot=%q messages=%d attempts=%d\n",
			st.Connected, st.Listening, st.AutoListening, st.Recording, st.RobotID, st.Messages, st.ReconnectAttempts)
	case "health":
		h, err := c.svc.Health(ctx)
		if err != nil {
			c.printf("%v\n", err)
			return false
		}
		c.printf("%s, mqtt connected=%v broker=%s default robot=%s\n", h.Status, h.MQTTConnected, h.Broker, h.DefaultRobotID)
	case "reconnect":
		if err := c.svc.Reconnect(ctx); err != nil {
			c.printf("%v\n", err)
		}
	case "disconnect":
		c.svc.Disconnect()
	default:
		c.printf("unknown command /%s, type /help\n", cmd)
	}
	return false
}

// describe turns service errors into messages for the user.
func describe(err error) string {
	var verr *robot.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, robot.ErrAckTimeout):
		return "the server did not confirm the robot, try again"
	case errors.Is(err, coordinator.ErrNotConnected):
		return "not connected"
	case errors.Is(err, voice.ErrRecognitionUnsupported):
		return "speech recognition is not available, set OPENAI_API_KEY or recognizer.api_key"
	case errors.Is(err, voice.ErrActive):
		return "already listening"
	case errors.Is(err, audiocapture.ErrPermissionDenied):
		return "microphone access was denied"
	case errors.Is(err, audiocapture.ErrUnsupported):
		return "no microphone capture tool found (arecord or ffmpeg)"
	}
	return err.Error()
}
