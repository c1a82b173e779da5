// Command ask is a terminal client for the local knowledge engine. It keeps
// a conversation in memory and waits out the thinking delay like the web
// client does.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"

	"github.com/studypilot/backend/internal/conversation"
	"github.com/studypilot/backend/internal/evaluation"
	"github.com/studypilot/backend/internal/knowledge"
	"github.com/studypilot/backend/internal/query"
)

func main() {
	var (
		evalPath      = flag.String("eval", "", "run an evaluation dataset (JSON) and exit")
		knowledgePath = flag.String("knowledge", "", "knowledge base YAML file (defaults to the built-in tables)")
		noDelay       = flag.Bool("no-delay", false, "answer immediately instead of simulating thinking time")
	)
	flag.Parse()

	store := knowledge.Default()
	if *knowledgePath != "" {
		var err error
		store, err = knowledge.LoadFile(*knowledgePath)
		if err != nil {
			color.Red("Failed to load knowledge base: %v", err)
			os.Exit(1)
		}
	}

	cfg := query.DefaultConfig()
	if *noDelay {
		cfg.DelayMin, cfg.DelayMax = 0, 0
	}
	engine := query.NewEngine(store, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *evalPath != "" {
		if err := runEvaluation(ctx, engine, *evalPath); err != nil {
			color.Red("Evaluation failed: %v", err)
			os.Exit(1)
		}
		return
	}

	repl(ctx, engine, store, cfg.HistoryWindow)
}

func runEvaluation(ctx context.Context, engine *query.Engine, path string) error {
	dataset, err := evaluation.LoadDatasetFile(path)
	if err != nil {
		return err
	}

	evaluator := evaluation.NewEvaluator(engine)
	report, err := evaluator.RunDatasetEvaluation(ctx, dataset)
	if err != nil {
		return err
	}

	fmt.Print(evaluator.GenerateReport(report))
	if report.FailedCount > 0 {
		return fmt.Errorf("%d of %d queries failed", report.FailedCount, report.TotalQueries)
	}
	return nil
}

func repl(ctx context.Context, engine *query.Engine, store *knowledge.Store, window int) {
	buffer := conversation.NewBuffer(window)
	scanner := bufio.NewScanner(os.Stdin)

	color.Cyan("Study Pilot. Ask a question, /topics to list subjects, /reset to start over, /quit to leave.")

	for {
		fmt.Print(color.GreenString("\nyou> "))
		if !scanner.Scan() {
			fmt.Println()
			return
		}

		text := scanner.Text()
		switch strings.TrimSpace(text) {
		case "/quit", "/exit":
			return
		case "/topics":
			color.Yellow("%s", strings.Join(store.Topics(), ", "))
			continue
		case "/reset":
			buffer.Reset()
			color.Yellow("Conversation cleared.")
			continue
		}

		history, _ := buffer.Snapshot()
		buffer.Append(conversation.NewUserMessage(text, nil))

		color.HiBlack("thinking...")
		p := engine.Match(ctx, query.Query{Text: text}, history)
		resp, err := p.Wait(ctx)
		if err != nil {
			p.Cancel()
			color.Red("\nCancelled.")
			return
		}

		buffer.Append(conversation.NewAIMessage(resp.Text, resp.Confidence, resp.Topic))

		fmt.Println(resp.Text)
		color.HiBlack("[%s | %s | confidence %.2f]", resp.Stage, resp.Topic, resp.Confidence)
	}
}
