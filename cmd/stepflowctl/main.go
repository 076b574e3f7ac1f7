// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command stepflowctl is a local-operator CLI for driving a running
// stepflowd over its admission REST API: enqueue a workflow, submit an
// analysis, pause/resume/cancel a queued item, or walk through enqueuing
// one interactively with `new`.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "execute":
		err = runExecute(os.Args[2:])
	case "analyze":
		err = runAnalyze(os.Args[2:])
	case "pause":
		err = runQueueOp(os.Args[2:], "pause")
	case "resume":
		err = runQueueOp(os.Args[2:], "resume")
	case "cancel":
		err = runQueueOp(os.Args[2:], "cancel")
	case "new":
		err = runInteractiveNew(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "stepflowctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: stepflowctl <execute|analyze|pause|resume|cancel|new> [flags]")
}

func runExecute(args []string) error {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "stepflowd base URL")
	project := fs.String("project", "", "project id")
	task := fs.String("task", "", "task id")
	taskMode := fs.String("task-mode", "", "workflow task mode override")
	priority := fs.String("priority", "medium", "priority: low, medium, high, critical")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return fmt.Errorf("-project is required")
	}

	body := map[string]interface{}{
		"taskId":   *task,
		"taskMode": *taskMode,
		"priority": *priority,
	}
	return postJSON(*server+"/api/v1/projects/"+*project+"/workflows", body)
}

// runInteractiveNew walks the operator through enqueuing a workflow task
// with a terminal form instead of flags, then submits it the same way
// runExecute does.
func runInteractiveNew(args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "stepflowd base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var project, task, taskMode, priority string
	priority = "medium"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("project").
				Title("Project ID").
				Placeholder("my-project").
				Value(&project).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("project id is required")
					}
					return nil
				}),

			huh.NewInput().
				Key("task").
				Title("Task ID").
				Placeholder("optional").
				Value(&task),

			huh.NewInput().
				Key("taskMode").
				Title("Task Mode Override").
				Placeholder("optional").
				Value(&taskMode),

			huh.NewSelect[string]().
				Key("priority").
				Title("Priority").
				Options(
					huh.NewOption("Low", "low"),
					huh.NewOption("Medium", "medium"),
					huh.NewOption("High", "high"),
					huh.NewOption("Critical", "critical"),
				).
				Value(&priority),
		),
	).WithTheme(huh.ThemeCharm())

	if err := form.Run(); err != nil {
		return fmt.Errorf("form cancelled: %w", err)
	}

	body := map[string]interface{}{
		"taskId":   task,
		"taskMode": taskMode,
		"priority": priority,
	}
	return postJSON(*server+"/api/v1/projects/"+project+"/workflows", body)
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "stepflowd base URL")
	project := fs.String("project", "", "project id")
	types := fs.String("types", "code-quality", "comma-separated analysis types")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return fmt.Errorf("-project is required")
	}

	body := map[string]interface{}{
		"types": strings.Split(*types, ","),
	}
	return postJSON(*server+"/api/v1/projects/"+*project+"/analysis", body)
}

func runQueueOp(args []string, op string) error {
	fs := flag.NewFlagSet(op, flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "stepflowd base URL")
	project := fs.String("project", "", "project id")
	item := fs.String("item", "", "queue item id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" || *item == "" {
		return fmt.Errorf("-project and -item are required")
	}

	url := *server + "/api/v1/projects/" + *project + "/queue/" + *item + "/" + op
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	return do(req)
}

func postJSON(url string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req)
}

func do(req *http.Request) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(respBody))
	}
	if len(respBody) > 0 {
		fmt.Println(string(respBody))
	}
	return nil
}
