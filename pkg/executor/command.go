package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/joshuaaferguson/apex/pkg/log"
)

// commandInput is the JSON document piped to the configured command's
// stdin, giving it everything it needs to resume a stage in-process.
type commandInput struct {
	TaskID     string         `json:"taskId"`
	StageIndex int            `json:"stageIndex"`
	Resume     *ResumeContext `json:"resume,omitempty"`
}

// CommandExecutor dispatches a task stage by shelling out to an external
// command and decoding its JSON stdout as a Result — a reasonable "real"
// implementation even though the task-execution function is deliberately
// left opaque by design.
type CommandExecutor struct {
	// Command is the executable to run; Args are appended after it.
	Command string
	Args    []string
}

// Execute implements Executor.
func (c *CommandExecutor) Execute(ctx context.Context, taskID string, stageIndex int, resume *ResumeContext) (Result, error) {
	input, err := json.Marshal(commandInput{TaskID: taskID, StageIndex: stageIndex, Resume: resume})
	if err != nil {
		return Result{}, fmt.Errorf("executor: encode command input: %w", err)
	}

	args := append([]string(nil), c.Args...)
	args = append(args, taskID, strconv.Itoa(stageIndex))

	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.WithComponent("executor").Warn().Str("task_id", taskID).Err(err).
			Str("stderr", stderr.String()).Msg("executor command failed")
		return Result{Outcome: OutcomeFailed, Error: err.Error()}, nil
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return Result{}, fmt.Errorf("executor: decode command output: %w", err)
	}
	return result, nil
}
