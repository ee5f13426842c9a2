package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/config"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/service"
)

var (
	streamMode    bool
	metaFromStdin bool

	tokenClientID    string
	tokenRole        string
	tokenSecret      string
	tokenExpiryHours int

	rootCmd = &cobra.Command{
		Use:   "answer [system-instruction] [user-input]",
		Short: "Answer a question with Gemini and print grounded citations",
		Long: `Without flags, prints the answer and its grounding as one JSON object.
With --stream, writes the answer to stdout as it is generated.
With --meta-from-stdin, reads a previously streamed answer from stdin,
regenerates the answer and prints citations aligned to the streamed text.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         runAnswer,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for an API client",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}

	hashKeyCmd = &cobra.Command{
		Use:   "hash-key [api-key]",
		Short: "Print the bcrypt hash of an API key for the api_clients table",
		Args:  cobra.ExactArgs(1),
		RunE:  runHashKey,
	}
)

func init() {
	rootCmd.Flags().BoolVar(&streamMode, "stream", false, "stream the answer as plain text")
	rootCmd.Flags().BoolVar(&metaFromStdin, "meta-from-stdin", false, "read the streamed answer from stdin and print aligned citations")
	rootCmd.MarkFlagsMutuallyExclusive("stream", "meta-from-stdin")

	tokenCmd.Flags().StringVar(&tokenClientID, "client-id", "", "client id (JWT subject)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "client", "role claim")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", os.Getenv("JWT_SECRET"), "signing secret (default $JWT_SECRET)")
	tokenCmd.Flags().IntVar(&tokenExpiryHours, "expiry-hours", 24, "token lifetime in hours")
	tokenCmd.MarkFlagRequired("client-id")

	rootCmd.AddCommand(tokenCmd, hashKeyCmd)
}

func runAnswer(cmd *cobra.Command, args []string) error {
	systemInstruction, question := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llmSvc, err := service.NewLLMService(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize LLM client", "error", err)
		return err
	}
	answerSvc := service.NewAnswerService(llmSvc, service.AnswerOptions{
		DisableRetrieval:         cfg.DisableVAS,
		StreamRetrieval:          cfg.EnableVASStream,
		DefaultSystemInstruction: cfg.DefaultSystemIns,
		RetryAttempts:            cfg.LLMRetryAttempts,
		RetryBaseDelay:           cfg.RetryBaseDelay(),
	})

	switch {
	case streamMode:
		return runStream(ctx, answerSvc, systemInstruction, question, os.Stdout)
	case metaFromStdin:
		return runCitations(ctx, answerSvc, systemInstruction, question, os.Stdin, os.Stdout)
	default:
		return runLegacy(ctx, answerSvc, systemInstruction, question, os.Stdout)
	}
}

func runStream(ctx context.Context, svc *service.AnswerService, systemInstruction, question string, out io.Writer) error {
	res, err := svc.Stream(ctx, systemInstruction, question, func(chunk string) error {
		_, err := io.WriteString(out, chunk)
		return err
	})
	if err != nil {
		slog.Error("stream failed", "error", err)
		return err
	}
	slog.Debug("stream done",
		"attempts", res.Attempts,
		"fallback_used", res.FallbackUsed,
		"answer_len", len([]rune(res.Text)),
	)
	return nil
}

func runCitations(ctx context.Context, svc *service.AnswerService, systemInstruction, question string, in io.Reader, out io.Writer) error {
	streamed, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	res := svc.Cite(ctx, systemInstruction, question, string(streamed))
	slog.Info("citations",
		"meta_text_len", res.MetaTextLen,
		"target_text_len", len([]rune(string(streamed))),
		"num_raw_supports", res.Stats.RawSupports,
		"num_supports", len(res.Payload.Supports),
		"window_matches", res.Stats.Window,
		"global_matches", res.Stats.Global,
		"estimates", res.Stats.Estimate,
		"fallback_used", res.Stats.FallbackUsed,
		"latency_ms_llm", res.LLMLatency.Milliseconds(),
		"latency_ms_align", res.AlignLatency.Milliseconds(),
	)
	return writeCompactJSON(out, res.Payload)
}

func runLegacy(ctx context.Context, svc *service.AnswerService, systemInstruction, question string, out io.Writer) error {
	resp, err := svc.Answer(ctx, systemInstruction, question)
	if err != nil {
		slog.Error("answer failed", "error", err)
		return err
	}
	return writeCompactJSON(out, resp)
}

// writeCompactJSON writes v without HTML escaping and without a trailing newline.
func writeCompactJSON(out io.Writer, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err := out.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return err
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenSecret == "" {
		return fmt.Errorf("--secret or JWT_SECRET is required")
	}
	token, err := service.NewAuthService(tokenSecret, tokenExpiryHours).SignToken(tokenClientID, tokenRole)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runHashKey(cmd *cobra.Command, args []string) error {
	hash, err := service.NewAuthService("", 0).HashAPIKey(args[0])
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
