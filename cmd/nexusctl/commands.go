package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/GriffinCanCode/NexusCore/backend/internal/api/middleware"
	"github.com/GriffinCanCode/NexusCore/backend/internal/providers/http/client"
)

const defaultServer = "http://localhost:8000"

type cli struct {
	out     io.Writer
	server  string
	tab     string
	timeout time.Duration
	api     *client.Client
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "nexusctl",
		Short:         "Operate a Nexus Core backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			c.connect()
		},
	}
	server := os.Getenv("NEXUS_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&c.server, "server", server, "backend base URL")
	root.PersistentFlags().StringVar(&c.tab, "tab", "tab_cli", "conduit tab id")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 3*time.Minute, "request timeout")

	root.AddCommand(
		c.statusCmd(),
		c.evolveCmd(),
		c.versionsCmd(),
		c.rollbackCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.messagesCmd(),
		c.sendCmd(),
		c.reportCmd(),
		c.backupCmd(),
		c.backupsCmd(),
		c.restoreCmd(),
	)
	return root
}

func (c *cli) connect() {
	cfg := client.DefaultConfig()
	cfg.BaseURL = strings.TrimRight(c.server, "/")
	cfg.Timeout = c.timeout
	cfg.MaxRetries = 1
	cfg.UserAgent = "nexusctl/1.0"
	c.api = client.NewClient("nexusctl", cfg)
	c.api.SetHeader(middleware.TabHeader, c.tab)
}

func (c *cli) do(ctx context.Context, fn func(r *resty.Request) (*resty.Response, error)) (gjson.Result, error) {
	resp, err := c.api.Do(ctx, fn)
	if err != nil {
		if resp != nil {
			if msg := gjson.GetBytes(resp.Body(), "error"); msg.Exists() {
				return gjson.Result{}, fmt.Errorf("%s (%d)", msg.String(), resp.StatusCode())
			}
		}
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(resp.Body()), nil
}

func (c *cli) printJSON(r gjson.Result) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(r.Raw), "", "  "); err != nil {
		_, err = fmt.Fprintln(c.out, r.Raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := c.out.Write(buf.Bytes())
	return err
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the supervisor state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.Get("/supervisor")
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "status:    %s\nintegrity: %d%%\nhead:      %s\nversions:  %d\n",
				r.Get("status").String(), r.Get("integrity").Int(), r.Get("headId").String(), r.Get("versions").Int())
			if e := r.Get("error"); e.Exists() {
				fmt.Fprintf(c.out, "error:     %s\n", e.String())
			}
			return nil
		},
	}
}

func (c *cli) evolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evolve <instruction>",
		Short: "Submit a typed instruction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.SetBody(map[string]string{"text": text}).Post("/capture/submit")
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s %s\n", r.Get("status").String(), r.Get("headId").String())
			return nil
		},
	}
}

func (c *cli) versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List the history, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.Get("/versions")
			})
			if err != nil {
				return err
			}
			head := r.Get("head").String()
			r.Get("versions").ForEach(func(_, v gjson.Result) bool {
				mark := " "
				if v.Get("id").String() == head {
					mark = "*"
				}
				stable := ""
				if v.Get("isStable").Bool() {
					stable = " [stable]"
				}
				ts := time.UnixMilli(v.Get("timestamp").Int()).Format(time.DateTime)
				fmt.Fprintf(c.out, "%s %s  %s  %s%s\n", mark, v.Get("id").String(), ts, v.Get("description").String(), stable)
				return true
			})
			return nil
		},
	}
}

func (c *cli) rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Remove the head version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.Post("/versions/rollback")
			})
			if err != nil {
				return err
			}
			if !r.Get("rolledBack").Bool() {
				fmt.Fprintln(c.out, "nothing to roll back")
				return nil
			}
			fmt.Fprintf(c.out, "removed %s, head is %s\n", r.Get("removed").String(), r.Get("head.id").String())
			return nil
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		output string
		gz     bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the history archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.api.Do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				if gz {
					req.SetQueryParam("gzip", "1")
				}
				return req.Get("/versions/export")
			})
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = c.out.Write(resp.Body())
				return err
			}
			if err := os.WriteFile(output, resp.Body(), 0o644); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			fmt.Fprintf(c.out, "wrote %d bytes to %s\n", len(resp.Body()), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	cmd.Flags().BoolVar(&gz, "gzip", false, "download a gzip archive")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the history with an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read archive: %w", err)
			}
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.SetHeader("Content-Type", "application/octet-stream").SetBody(data).Post("/versions/import")
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "imported %d versions, head is %s\n", r.Get("imported").Int(), r.Get("head").String())
			return nil
		},
	}
}

func (c *cli) messagesCmd() *cobra.Command {
	var wipe bool
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Show the conduit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if wipe {
				_, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
					return req.Delete("/conduit/messages")
				})
				if err == nil {
					fmt.Fprintln(c.out, "cleared")
				}
				return err
			}
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.Get("/conduit/messages")
			})
			if err != nil {
				return err
			}
			r.Get("messages").ForEach(func(_, m gjson.Result) bool {
				payload := m.Get("payload").String()
				if len(payload) > 60 {
					payload = payload[:60] + "..."
				}
				fmt.Fprintf(c.out, "%-16s %-8s %-10s %s\n",
					m.Get("type").String(), m.Get("hyperbit.COLOR").String(), m.Get("senderId").String(), payload)
				return true
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&wipe, "clear", false, "clear the log for every tab")
	return cmd
}

func (c *cli) sendCmd() *cobra.Command {
	var (
		typ   string
		color string
	)
	cmd := &cobra.Command{
		Use:   "send <payload>",
		Short: "Send a message to the conduit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"type": typ, "payload": args[0]}
			if color != "" {
				body["hyperbit"] = map[string]string{"COLOR": color}
			}
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.SetBody(body).Post("/conduit/messages")
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, r.Get("id").String())
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "RAW_INSTRUCTION", "message type")
	cmd.Flags().StringVar(&color, "color", "", "hyperbit color")
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	var (
		markdown bool
		send     bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a system report of the head",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.SetBody(map[string]bool{"send": send}).Post("/report")
			})
			if err != nil {
				return err
			}
			field := "html"
			if markdown {
				field = "markdown"
			}
			fmt.Fprintln(c.out, r.Get(field).String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "print markdown instead of HTML")
	cmd.Flags().BoolVar(&send, "send", false, "also post the report to the conduit")
	return cmd
}

func (c *cli) backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload the history archive to the cloud bucket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.Post("/cloud/backup")
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s (%d bytes)\n", r.Get("name").String(), r.Get("size").Int())
			return nil
		},
	}
}

func (c *cli) backupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List archives in the cloud bucket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.Get("/cloud/backups")
			})
			if err != nil {
				return err
			}
			return c.printJSON(r.Get("backups"))
		},
	}
}

func (c *cli) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <name>",
		Short: "Import an archive from the cloud bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.do(cmd.Context(), func(req *resty.Request) (*resty.Response, error) {
				return req.SetPathParam("name", args[0]).Post("/cloud/restore/{name}")
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "restored %s, head is %s\n", r.Get("restored").String(), r.Get("head").String())
			return nil
		},
	}
}
