package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"go.aimuz.me/voicelink/chat"
	"go.aimuz.me/voicelink/config"
	"go.aimuz.me/voicelink/internal/app"
	"go.aimuz.me/voicelink/prefs"
	"go.aimuz.me/voicelink/robot"
	"go.aimuz.me/voicelink/typography"
)

var sayWait time.Duration

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		replies := make(chan string, 1)
		svc, err := app.New(cfg, app.Options{
			Emit: func(name string, data any) {
				if m, ok := data.(chat.Message); ok && m.Role == chat.RoleAssistant {
					select {
					case replies <- m.Content:
					default:
					}
				}
			},
		})
		if err != nil {
			return err
		}
		defer svc.Shutdown()

		if err := svc.Start(ctx); err != nil {
			return err
		}
		if err := waitConnected(ctx, svc, cfg.Server.DialTimeout); err != nil {
			return err
		}
		if !svc.Send(strings.Join(args, " ")) {
			return fmt.Errorf("message not sent")
		}

		select {
		case reply := <-replies:
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		case <-time.After(sayWait):
			return fmt.Errorf("no reply within %s", sayWait)
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

var robotCmd = &cobra.Command{
	Use:   "robot",
	Short: "Show or change the robot the assistant controls",
}

var robotGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the backend's default robot id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id, err := robot.NewClient(cfg.APIBase(), nil).DefaultRobotID(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var robotSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Select a robot and remember it for future sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := robot.ValidateID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		svc, err := app.New(cfg, app.Options{})
		if err != nil {
			return err
		}
		defer svc.Shutdown()

		ctx := cmd.Context()
		if err := svc.Start(ctx); err != nil {
			return err
		}
		if err := waitConnected(ctx, svc, cfg.Server.DialTimeout); err != nil {
			return err
		}
		latency, err := svc.SelectRobot(ctx, id)
		if err != nil {
			return err
		}

		cfg.User.RobotID = id
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Now controlling robot: %s (%s)\n", id, robot.FormatLatency(latency))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show backend health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		h, err := robot.NewClient(cfg.APIBase(), nil).Health(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "status\t%s\n", h.Status)
		fmt.Fprintf(w, "mqtt connected\t%v\n", h.MQTTConnected)
		fmt.Fprintf(w, "broker\t%s\n", h.Broker)
		fmt.Fprintf(w, "default robot\t%s\n", h.DefaultRobotID)
		return w.Flush()
	},
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change reading and display preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print stored preferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			s, err := p.Typography()
			if err != nil {
				return err
			}
			theme, err := p.Theme()
			if err != nil {
				return err
			}
			session, err := p.Session()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "font size\t%s (%s, %gpx)\n", s.Size, s.Size.DisplayName(), s.BaseSize())
			fmt.Fprintf(w, "high contrast\t%v\n", s.HighContrast)
			fmt.Fprintf(w, "reduced motion\t%v\n", s.ReducedMotion)
			fmt.Fprintf(w, "theme\t%s\n", theme)
			fmt.Fprintf(w, "touch target\t%dpx\n", s.TouchTarget())
			fmt.Fprintf(w, "user interacted\t%v\n", session.UserInteracted)
			fmt.Fprintf(w, "listening\t%v\n", session.Listening)
			fmt.Fprintf(w, "auto listening\t%v\n", session.AutoListening)
			return w.Flush()
		})
	},
}

var prefsFontCmd = &cobra.Command{
	Use:   "font <size>",
	Short: "Set the font size",
	Long:  "Set the font size to one of: " + strings.Join(fontSizeNames(), ", "),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			f, err := p.SetFontSize(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "font size: %s (%s)\n", f, f.DisplayName())
			return nil
		})
	},
}

var prefsContrastCmd = &cobra.Command{
	Use:   "contrast",
	Short: "Toggle high contrast",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			v, err := p.ToggleHighContrast()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "high contrast: %v\n", v)
			return nil
		})
	},
}

var prefsMotionCmd = &cobra.Command{
	Use:   "motion",
	Short: "Toggle reduced motion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			v, err := p.ToggleReducedMotion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reduced motion: %v\n", v)
			return nil
		})
	},
}

var prefsThemeCmd = &cobra.Command{
	Use:       "theme <light|dark>",
	Short:     "Set the colour theme",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(prefs.ThemeLight), string(prefs.ThemeDark)},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			return p.SetTheme(prefs.Theme(args[0]))
		})
	},
}

func init() {
	sayCmd.Flags().DurationVar(&sayWait, "wait", 30*time.Second, "how long to wait for a reply")

	robotCmd.AddCommand(robotGetCmd)
	robotCmd.AddCommand(robotSetCmd)

	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsFontCmd)
	prefsCmd.AddCommand(prefsContrastCmd)
	prefsCmd.AddCommand(prefsMotionCmd)
	prefsCmd.AddCommand(prefsThemeCmd)
}

func withPrefs(fn func(p *prefs.Prefs) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := openPrefs(cfg)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}

func openPrefs(cfg *config.Config) (*prefs.Prefs, error) {
	dir, err := cfg.DataPath()
	if err != nil {
		return nil, err
	}
	return prefs.Open(dir)
}

func fontSizeNames() []string {
	sizes := typography.Sizes()
	names := make([]string, len(sizes))
	for i, s := range sizes {
		names[i] = string(s)
	}
	return names
}
