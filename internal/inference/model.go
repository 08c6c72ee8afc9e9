// Package inference runs the YOLO object detection model with TensorFlow Lite.
package inference

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"

	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

// DefaultInputSize is the square input size of the stock YOLO exports
const DefaultInputSize = 640

// Config holds the model settings
type Config struct {
	ModelPath string
	InputSize int
	Threads   int
}

// ConfigFromSettings maps detection settings to a model config
func ConfigFromSettings(s *conf.DetectionSettings) Config {
	return Config{
		ModelPath: s.ModelPath,
		InputSize: s.InputSize,
		Threads:   s.Threads,
	}
}

// Model is a loaded TFLite interpreter. Infer calls are serialized.
type Model struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputSize   int
	path        string
}

// Load reads the model file and allocates the interpreter
func Load(ctx context.Context, cfg Config) (*Model, error) {
	start := time.Now()
	log := GetLogger()

	if cfg.ModelPath == "" {
		return nil, errors.Newf("model path is not configured").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).Category(errors.CategoryCancellation).Build()
	}

	data, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryModelLoad).
			Context("model_path", cfg.ModelPath).
			Timing("model-read", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Context("model_size_mb", len(data)/1024/1024).
			Build()
	}

	threads := ThreadCount(cfg.Threads)
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.Newf("cannot create interpreter").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Build()
	}
	m := &Model{
		model:       model,
		options:     options,
		interpreter: interpreter,
		inputSize:   cfg.InputSize,
		path:        cfg.ModelPath,
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		m.release()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Build()
	}

	if err := m.checkInput(); err != nil {
		m.release()
		return nil, err
	}

	log.Info("detection model initialized",
		logger.String("model", cfg.ModelPath),
		logger.Int("input_size", cfg.InputSize),
		logger.Int("threads", threads),
		logger.String("cpu", CPUBrand()),
		logger.Duration("duration", time.Since(start)))
	return m, nil
}

// checkInput verifies the input tensor has room for an NHWC RGB image
func (m *Model) checkInput() error {
	input := m.interpreter.GetInputTensor(0)
	if input == nil {
		return errors.Newf("cannot get input tensor").Category(errors.CategoryModelInit).Build()
	}
	want := m.inputSize * m.inputSize * 3
	if got := len(input.Float32s()); got != want {
		return errors.Newf("input tensor holds %d values, expected %d for size %d", got, want, m.inputSize).
			Category(errors.CategoryModelInit).
			Context("model_path", m.path).
			Build()
	}
	return nil
}

// Infer runs the model on a frame and returns a copy of the raw output tensor
func (m *Model) Infer(ctx context.Context, frame pipeline.Frame) ([]float32, error) {
	if frame.Image == nil {
		return nil, errors.Newf("frame %d has no image", frame.Seq).
			Category(errors.CategoryImageProcess).
			Build()
	}
	input := Preprocess(frame.Image, m.inputSize)
	if input == nil {
		return nil, errors.Newf("frame %d has an empty image", frame.Seq).
			Category(errors.CategoryImageProcess).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter == nil {
		return nil, errors.Newf("model is closed").Category(errors.CategoryState).Build()
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).Category(errors.CategoryCancellation).Build()
	}

	start := time.Now()
	tensor := m.interpreter.GetInputTensor(0)
	if tensor == nil {
		return nil, errors.Newf("cannot get input tensor").Category(errors.CategoryInference).Build()
	}
	copy(tensor.Float32s(), input)

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tensor invoke failed: %v", status).
			Category(errors.CategoryInference).
			Timing("invoke", time.Since(start)).
			Build()
	}

	output := m.interpreter.GetOutputTensor(0)
	if output == nil {
		return nil, errors.Newf("cannot get output tensor").Category(errors.CategoryInference).Build()
	}
	out := make([]float32, len(output.Float32s()))
	copy(out, output.Float32s())
	return out, nil
}

// Close releases the interpreter. It is safe to call more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
	return nil
}

func (m *Model) release() {
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
}

// Loader returns a pipeline loader for cfg
func Loader(cfg Config) pipeline.Loader {
	return func(ctx context.Context) (pipeline.Inferer, error) {
		m, err := Load(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
