package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/intelliguard/internal/capture"
	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/recognition"
	"github.com/your-org/intelliguard/internal/vision"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Retrain the face model from the whole sample corpus",
	Args:  cobra.NoArgs,
	RunE:  runTrain,
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Capture face samples for an identity and retrain",
	Long: `Capture face samples for an identity and retrain the face model.

Frames come from the configured camera, or from a directory of images with
--dir. Frames without a detectable face are skipped. New samples are numbered
after the identity's existing ones, so enrolling again adds to the corpus.

Examples:
  # Capture up to 10 samples from the camera
  guardctl enroll --identity 100

  # Enroll from photos on disk
  guardctl enroll --identity 100 --dir ./photos/100

  # Capture 20 samples, giving up after a minute
  guardctl enroll --identity 100 --samples 20 --timeout 1m`,
	Args: cobra.NoArgs,
	RunE: runEnroll,
}

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Watch the camera until a face is recognised (kiosk loop)",
	Long: `Watch the configured camera until a face is recognised with at least the
operational confidence threshold, then print the identity.

Exits with an error when the timeout passes without a confident match.`,
	Args: cobra.NoArgs,
	RunE: runIdentify,
}

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Recognise the face in an image file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecognize,
}

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE:  runStudents,
}

func init() {
	rootCmd.AddCommand(trainCmd, enrollCmd, identifyCmd, recognizeCmd, studentsCmd)

	enrollCmd.Flags().String("identity", "", "Identity to enroll (required)")
	enrollCmd.Flags().String("dir", "", "Read frames from this directory instead of the camera")
	enrollCmd.Flags().Int("samples", 0, "Maximum samples to capture (0 = configured default)")
	enrollCmd.Flags().Duration("timeout", 0, "Capture timeout (0 = configured default)")
	_ = enrollCmd.MarkFlagRequired("identity")

	identifyCmd.Flags().String("dir", "", "Read frames from this directory instead of the camera")
	identifyCmd.Flags().Float64("threshold", 0, "Confidence percent required (0 = configured operational threshold)")
	identifyCmd.Flags().Duration("timeout", 0, "Give up after this long (0 = configured capture timeout)")
	identifyCmd.Flags().Bool("json", false, "Output as JSON")

	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
	studentsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Recognition.Retrain(cmd.Context())
	if errors.Is(err, recognition.ErrEmptyCorpus) {
		return errors.New("no samples to train on, enroll an identity first")
	}
	if err != nil {
		return err
	}
	fmt.Printf("Trained on %d samples of %d identities in %s\n",
		stats.Samples, stats.Identities, stats.Duration.Round(time.Millisecond))
	return nil
}

func runEnroll(cmd *cobra.Command, _ []string) error {
	identity := mustGetString(cmd, "identity")
	dir := mustGetString(cmd, "dir")
	samples := mustGetInt(cmd, "samples")
	timeout := mustGetDuration(cmd, "timeout")

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if samples <= 0 {
		samples = a.Config.Vision.MaxSamples
	}
	if timeout <= 0 {
		timeout = a.Config.Capture.Timeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var src capture.Source
	if dir != "" {
		ds, err := capture.NewDirSource(dir)
		if err != nil {
			return err
		}
		fmt.Printf("Reading up to %d frames from %s\n", ds.Len(), dir)
		src = ds
	} else {
		fmt.Printf("Look at the camera (%s)...\n", a.Config.Capture.Source)
		src, err = a.Camera(ctx)
		if err != nil {
			return err
		}
	}
	defer src.Close()

	bar := progressbar.NewOptions(samples,
		progressbar.OptionSetDescription("Capturing "+identity),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	res, err := a.Recognition.Enroll(ctx, identity, src, recognition.EnrollOptions{
		MaxSamples: samples,
		OnSample: func(int, models.SampleRef) {
			_ = bar.Add(1)
		},
	})
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return fmt.Errorf("enroll %s: %w", identity, err)
	}

	fmt.Printf("Enrolled %s: %d samples stored (%d frames skipped), model now has %d samples of %d identities\n",
		res.Identity, res.Accepted, res.Skipped, res.Training.Samples, res.Training.Identities)
	return nil
}

func runIdentify(cmd *cobra.Command, _ []string) error {
	dir := mustGetString(cmd, "dir")
	threshold := mustGetFloat64(cmd, "threshold")
	timeout := mustGetDuration(cmd, "timeout")
	asJSON := mustGetBool(cmd, "json")

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if threshold <= 0 {
		threshold = a.Config.Vision.OperationalThreshold
	}
	if timeout <= 0 {
		timeout = a.Config.Capture.Timeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var src capture.Source
	if dir != "" {
		src, err = capture.NewDirSource(dir)
	} else {
		src, err = a.Camera(ctx)
	}
	if err != nil {
		return err
	}
	defer src.Close()

	m, err := a.Recognition.RecognizeStream(ctx, src, threshold)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, recognition.ErrNoMatch) {
		return fmt.Errorf("no identity recognised with confidence >= %.0f%%", threshold)
	}
	if err != nil {
		return err
	}
	return printMatch(m, asJSON)
}

func runRecognize(cmd *cobra.Command, args []string) error {
	asJSON := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	img, err := vision.DecodeImage(data)
	if err != nil {
		return err
	}

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.Recognition.Recognize(cmd.Context(), img)
	if err != nil {
		return err
	}
	return printMatch(m, asJSON)
}

func printMatch(m recognition.Match, asJSON bool) error {
	if asJSON {
		var out struct {
			Identity   *string `json:"identity"`
			Confidence float64 `json:"confidence"`
		}
		if m.Matched() {
			out.Identity = &m.Identity
			out.Confidence = m.Confidence
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if !m.Matched() {
		fmt.Println("No identity recognised")
		return nil
	}
	fmt.Printf("%s (confidence %.1f%%)\n", m.Identity, m.Confidence)
	return nil
}

func runStudents(cmd *cobra.Command, _ []string) error {
	asJSON := mustGetBool(cmd, "json")

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.Recognition.Identities(cmd.Context())
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ids)
	}
	if len(ids) == 0 {
		fmt.Println("No identities enrolled")
		return nil
	}
	for _, id := range ids {
		fmt.Printf("%-20s %d samples\n", id.Identity, id.Samples)
	}
	return nil
}
