// Package main provides the advisor command line client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/asesorlab/advisor/internal/client"
	"github.com/asesorlab/advisor/internal/pipeline"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "advisor",
		Short: "Advisor - grounded answers for self-employed professionals",
		Long: `Advisor is a command line client for the advisor API. It answers
fiscal, labor and market questions in Spanish, grounded on a curated
knowledge base, with citations back to the source documents.

Run 'advisor ask "¿Qué IVA aplico a mis facturas?"' to ask a question.
Run 'advisor --help' for available commands.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "advisor server URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key (also ADVISOR_API_KEY)")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")
	rootCmd.PersistentFlags().Duration("timeout", 60*time.Second, "request timeout")

	rootCmd.AddCommand(
		askCmd(),
		historyCmd(),
		tracesCmd(),
		healthCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient(cmd *cobra.Command) *client.Client {
	serverURL, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if apiKey == "" {
		apiKey = os.Getenv("ADVISOR_API_KEY")
	}

	cfg := client.DefaultConfig()
	cfg.BaseURL = serverURL
	cfg.APIKey = apiKey
	cfg.Timeout = timeout
	return client.New(cfg)
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question",
		Long: `Ask a fiscal, labor or market question. The answer cites the
knowledge base documents it is grounded on.

Examples:
  advisor ask "¿Qué IVA aplico a mis facturas?"
  advisor ask --user ana --conversation c42 "¿Y el IRPF?"
  advisor ask "factura de 1000 euros con IVA 21 e IRPF 15"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			conversationID, _ := cmd.Flags().GetString("conversation")
			format, _ := cmd.Flags().GetString("format")

			c := newClient(cmd)
			resp, err := c.Ask(context.Background(), pipeline.Request{
				UserID:         userID,
				ConversationID: conversationID,
				Query:          strings.Join(args, " "),
			})
			if err != nil {
				return err
			}

			if format == "json" {
				return printJSON(resp)
			}
			printAnswer(resp)
			return nil
		},
	}

	cmd.Flags().StringP("user", "u", "", "user identifier")
	cmd.Flags().String("conversation", "", "conversation identifier (continues a thread)")

	return cmd
}

func printAnswer(resp pipeline.Response) {
	fmt.Println(resp.Answer)

	if len(resp.Citations) > 0 {
		fmt.Println()
		fmt.Println("Fuentes:")
		for _, cit := range resp.Citations {
			fmt.Printf("  [%d] %s (%d%%)\n", cit.Index, cit.DocumentTitle, cit.ConfidencePercent)
		}
	}

	if len(resp.Alerts) > 0 {
		fmt.Println()
		for _, alert := range resp.Alerts {
			fmt.Printf("  ! %s\n", alert)
		}
	}

	fmt.Println()
	fmt.Printf("(%s, confianza %s, %dms)\n",
		resp.Routing.Specialist, resp.Meta.GroundingConfidence, resp.Meta.TotalMs)
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Show the stored turns of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			format, _ := cmd.Flags().GetString("format")

			c := newClient(cmd)
			hist, err := c.Conversation(context.Background(), args[0], limit)
			if err != nil {
				return err
			}

			if format == "json" {
				return printJSON(hist)
			}
			for _, turn := range hist.Turns {
				fmt.Printf("[%s] %s\n", turn.Role, turn.Content)
			}
			fmt.Printf("\n%d turns\n", hist.Count)
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 50, "maximum turns to fetch")

	return cmd
}

func tracesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Show recent answer traces (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			summary, _ := cmd.Flags().GetBool("summary")
			format, _ := cmd.Flags().GetString("format")

			c := newClient(cmd)
			ctx := context.Background()

			if summary {
				sum, err := c.TraceSummary(ctx, limit)
				if err != nil {
					return err
				}
				if format == "json" {
					return printJSON(sum)
				}
				fmt.Printf("answers:        %d\n", sum.Count)
				fmt.Printf("success rate:   %.0f%%\n", sum.SuccessRate*100)
				fmt.Printf("avg total:      %.0fms\n", sum.AvgTotalMs)
				fmt.Printf("avg retrieval:  %.0fms\n", sum.AvgRetrievalMs)
				fmt.Printf("avg llm:        %.0fms\n", sum.AvgLLMMs)
				fmt.Printf("low grounding:  %.0f%%\n", sum.LowGroundingFraction*100)
				fmt.Printf("cache hits:     %d retrieval, %d response\n", sum.RetrievalCacheHits, sum.ResponseCacheHits)
				fmt.Printf("tool answers:   %d\n", sum.ToolAnswers)
				fmt.Printf("fallbacks:      %d\n", sum.FallbackAnswers)
				fmt.Printf("guard rewrites: %d\n", sum.GuardRewrites)
				return nil
			}

			list, err := c.Traces(ctx, limit)
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(list)
			}
			for _, rec := range list.Traces {
				status := "ok"
				if !rec.Success {
					status = rec.ErrorCode
				}
				fmt.Printf("%s  %-8s %-10s grounding=%-6s %4dms  %s\n",
					rec.CreatedAt.Format("15:04:05"),
					status,
					rec.Specialist,
					rec.GroundingConfidence,
					rec.Performance.TotalMs,
					rec.ID,
				)
			}
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "maximum traces to fetch")
	cmd.Flags().Bool("summary", false, "show aggregate statistics instead of the list")

	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd)
			resp, err := c.Ready(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("status: %s\n", resp.Status)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("advisor %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
