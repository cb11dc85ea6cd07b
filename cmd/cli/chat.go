package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/dvloznov/finance-advisor/internal/agent"
	"github.com/dvloznov/finance-advisor/internal/app"
	"github.com/dvloznov/finance-advisor/internal/logger"
)

// maxHistoryTurns caps how much of the session is resent with each question.
const maxHistoryTurns = 20

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath, user := commonFlags(fs)
	question := fs.String("q", "", "Ask a single question and exit")
	fs.Parse(os.Args[2:])

	cfg, log := load(*configPath)
	id := owner(log, *user)

	ctx := logger.WithContext(context.Background(), log)
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	if *question != "" {
		answer, err := application.Agent.Converse(ctx, id, *question)
		if err != nil {
			log.Fatal().Err(err).Msg("Chat failed")
		}
		assistantPrompt("%s\n", answer.Text)
		return
	}

	color.Cyan("\nAsk about your spending (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	var history []agent.Turn

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.EqualFold(query, "exit") {
			break
		}

		spinner := getSpinner("Thinking...")
		answer, err := application.Agent.Converse(ctx, id, query, history...)
		_ = spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		assistantPrompt("Advisor: %s\n", answer.Text)
		if answer.Degraded {
			color.Yellow("(answer may be incomplete)\n")
		}

		history = append(history,
			agent.Turn{Role: agent.RoleUser, Content: query},
			agent.Turn{Role: agent.RoleAssistant, Content: answer.Text},
		)
		if len(history) > maxHistoryTurns {
			history = history[len(history)-maxHistoryTurns:]
		}
	}
}
