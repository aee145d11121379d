package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cbegin/harmonizer-go"
	"github.com/cbegin/harmonizer-go/internal/harmony"
	"github.com/cbegin/harmonizer-go/internal/wav"
)

func main() {
	var (
		inPath  = flag.String("in", "", "16-bit mono WAV recording")
		outPath = flag.String("out", "harmony.wav", "rendered stereo float32 WAV")
		target  = flag.Float64("target", harmony.DefaultTarget, "pitch the recording is corrected to, in Hz")
		seconds = flag.Float64("seconds", 10, "length of the render")
		period  = flag.Duration("period", 5*time.Second, "playback session length")
		gain    = flag.Float64("gain", 0.4, "mix gain applied to the sum of the voices")
		noRamp  = flag.Bool("no-ramp", false, "skip the EQ ramp at each session start")
	)
	flag.Parse()

	if strings.TrimSpace(*inPath) == "" {
		log.Fatal("missing -in")
	}
	take, err := wav.ReadFile(*inPath)
	if err != nil {
		log.Fatal(err)
	}
	analysis, err := harmonizer.Analyze(take, *target)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("detected %.2f Hz (%s), clarity %.3f, correction %.4f\n",
		analysis.Estimate.Frequency, analysis.Note, analysis.Estimate.Clarity, analysis.Plan.Correction)
	for i, v := range analysis.Plan.Voices {
		fmt.Printf("voice %d: ratio %.3f speed %.4f\n", i+1, v.IntervalRatio, v.Speed)
	}

	opts := []harmonizer.Option{harmonizer.WithPeriod(*period), harmonizer.WithGain(*gain)}
	if *noRamp {
		opts = append(opts, harmonizer.WithRamp(nil))
	}
	samples := harmonizer.RenderHarmony(take, analysis.Plan, *seconds, opts...)
	if err := os.WriteFile(*outPath, harmonizer.EncodeWAVFloat32LE(samples, take.SampleRate, 2), 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s (%.1fs)\n", *outPath, *seconds)
}
