package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/sandbox"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/services"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/templates"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/timing"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scenectl",
		Short:         "Offline tools for scene code and the scene API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newValidateCmd(),
		newCompileCmd(),
		newDurationCmd(),
		newTemplatesCmd(),
		newTokenCmd(),
	)
	return root
}

// readSource reads a file argument, or stdin for "-".
func readSource(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newValidateCmd() *cobra.Command {
	var (
		asJSON   bool
		compiled bool
		write    string
	)
	cmd := &cobra.Command{
		Use:   "validate [file|-]",
		Short: "Check scene code against the runtime contract and repair what can be repaired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(cmd, args[0])
			if err != nil {
				return err
			}
			v := sandbox.NewWithOptions(sandbox.Options{Compiled: compiled, Stage: "cli"})
			res, err := v.Validate(cmd.Context(), src)
			if err != nil {
				return err
			}
			if write != "" {
				if err := os.WriteFile(write, []byte(res.RepairedCode), 0o644); err != nil {
					return fmt.Errorf("failed to write repaired code: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "component: %s\n", res.ComponentName)
				fmt.Fprintf(out, "duration:  %d frames (%.1fs)\n", res.ExtractedDuration, timing.FramesToSeconds(res.ExtractedDuration))
				for _, viol := range res.Violations {
					state := "repaired"
					if !viol.Fixable {
						state = "UNFIXABLE"
					}
					fmt.Fprintf(out, "  [%s] %s line %d: %s\n", state, viol.Rule, viol.Line, viol.Message)
				}
			}
			if !res.OK {
				return fmt.Errorf("code violates the scene contract: %s", res.Summary())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&compiled, "compiled", false, "treat the input as compiled JavaScript")
	cmd.Flags().StringVarP(&write, "write", "w", "", "write the repaired code to this file")
	return cmd
}

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile [file|-]",
		Short: "Repair and compile scene TSX to the JavaScript the player loads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := sandbox.New().Validate(cmd.Context(), src)
			if err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("code violates the scene contract: %s", res.Summary())
			}
			js, err := sandbox.Compile(cmd.Context(), res.RepairedCode)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), js)
			return err
		},
	}
	return cmd
}

func newDurationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duration [text]",
		Short: "Show the duration a chat message asks for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase, ok := timing.FindDuration(args[0])
			if !ok {
				return fmt.Errorf("no duration found in %q", args[0])
			}
			frames := timing.Clamp(phrase.Frames)
			fmt.Fprintf(cmd.OutOrStdout(), "%d frames (%.1fs at %d fps)\n", frames, timing.FramesToSeconds(frames), timing.FPS)
			return nil
		},
	}
}

func newTemplatesCmd() *cobra.Command {
	var (
		file   string
		format string
		show   string
	)
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List the scene template catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := templates.Load(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if show != "" {
				tpl, err := catalog.Get(show)
				if err != nil {
					return err
				}
				_, err = io.WriteString(out, tpl.Code)
				return err
			}
			for _, tpl := range catalog.List(format) {
				fmt.Fprintf(out, "%-14s %-14s %s\n", tpl.ID, tpl.Name, tpl.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog YAML file (default: built-in catalog)")
	cmd.Flags().StringVar(&format, "format", "", "only templates supporting this format")
	cmd.Flags().StringVar(&show, "show", "", "print the code of one template")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		secret   string
		userID   string
		email    string
		username string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			id := uuid.New()
			if userID != "" {
				var err error
				if id, err = uuid.Parse(userID); err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
			}
			token, err := services.GenerateToken(secret, id, email, username, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default: $JWT_SECRET)")
	cmd.Flags().StringVar(&userID, "user", "", "user id (default: random)")
	cmd.Flags().StringVar(&email, "email", "dev@localhost", "email claim")
	cmd.Flags().StringVar(&username, "username", "dev", "username claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
