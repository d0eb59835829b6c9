package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/recognition"
	"github.com/andresmejia3/facewatch/internal/utils"
	"github.com/andresmejia3/facewatch/internal/worker"
)

// newDlib is set by the dlib build.
var newDlib func(modelsDir string) (recognition.Recognizer, error)

// newRecognizer builds the configured recognizer. For the subprocess worker
// it also returns the SafeCommand so error boxes can include the worker's stderr.
var newRecognizer = func(ctx context.Context, rc config.RecognizerConfig) (recognition.Recognizer, *utils.SafeCommand, error) {
	switch rc.Kind {
	case "", "worker":
		w, err := worker.NewPythonWorker(ctx, 0, worker.Config{
			Command:     rc.Command,
			Models:      rc.Models,
			ReadTimeout: rc.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return w, w.Cmd, nil
	case "dlib":
		if newDlib == nil {
			return nil, nil, fmt.Errorf("%w: dlib recognizer not compiled in (rebuild with -tags dlib)", recognition.ErrUnavailable)
		}
		rec, err := newDlib(rc.Models)
		return rec, nil, err
	}
	return nil, nil, fmt.Errorf("unknown recognizer %q", rc.Kind)
}

// recognizerFingerprint names the recognizer configuration an embedding came
// from. Cached embeddings are only reused under the same fingerprint.
func recognizerFingerprint(rc config.RecognizerConfig) string {
	kind := rc.Kind
	if kind == "" {
		kind = "worker"
	}
	parts := []string{kind, rc.Models}
	if kind == "worker" {
		command := rc.Command
		if len(command) == 0 {
			command = worker.DefaultCommand
		}
		parts = append(parts, strings.Join(command, " "))
	}
	return strings.Join(parts, "|")
}
