//go:build dlib

package cmd

import (
	"github.com/andresmejia3/facewatch/internal/recognition"
	"github.com/andresmejia3/facewatch/internal/recognition/dlib"
)

func init() {
	newDlib = func(modelsDir string) (recognition.Recognizer, error) {
		rec, err := dlib.New(modelsDir)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}
