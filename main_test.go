package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/affect-pipeline/orchestrator"
	"github.com/maastricht-university/affect-pipeline/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTextCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "text", "--log-level", "error", "I am SO angry!!! This is terrible and unfair!!")
	require.NoError(t, err)
	assert.Contains(t, out, "angry\t")

	out, err = execute(t, "text", "--json", "thank you, that was great")
	require.NoError(t, err)
	var res struct {
		Tone       string             `json:"tone"`
		Confidence float64            `json:"confidence"`
		Scores     map[string]float64 `json:"scores"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.Tone)
	assert.NotEmpty(t, res.Scores)
}

func TestTextCommand_Lexicon(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	lex := filepath.Join(dir, "lexicon.yaml")
	require.NoError(t, os.WriteFile(lex, []byte("categories:\n  sad: {weight: 1, words: [bananas]}\n"), 0o644))

	out, err := execute(t, "text", "--log-level", "error", "honestly bananas")
	require.NoError(t, err)
	assert.Contains(t, out, "neutral\t")

	out, err = execute(t, "text", "--lexicon", lex, "--log-level", "error", "honestly bananas")
	require.NoError(t, err)
	assert.Contains(t, out, "sad\t")
}

func TestSetupErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing config file", args: []string{"text", "--config", "nope.yaml", "hi"}, want: "load config"},
		{name: "bad log level", args: []string{"text", "--log-level", "loud", "hi"}, want: "log level"},
		{name: "missing lexicon", args: []string{"text", "--lexicon", "nope.yaml", "hi"}, want: "nope.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	db := filepath.Join(dir, "affect.db")

	st, err := store.Open(db)
	require.NoError(t, err)
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	hist := []orchestrator.Reading{
		{Channel: orchestrator.Text, Category: "calm", Confidence: 0.8, Timestamp: ts},
		{Channel: orchestrator.Text, Category: "calm", Confidence: 0.7, Timestamp: ts.Add(time.Second)},
		{Channel: orchestrator.Text, Category: "sad", Confidence: 0.6, Timestamp: ts.Add(2 * time.Second)},
		{Channel: orchestrator.Text, Category: "angry", Confidence: 0.9, Timestamp: ts.Add(3 * time.Second)},
	}
	require.NoError(t, st.SaveHistory(context.Background(), string(orchestrator.Text), hist))
	require.NoError(t, st.Close())

	out, err := execute(t, "stats", "--store", db, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "CHANNEL")
	assert.Contains(t, out, "calm 50%, angry 25%, sad 25%")
	assert.Regexp(t, `facial\s+0\s+-\s+-`, out)
}
