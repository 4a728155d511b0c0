package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// transcoder is an ffmpeg process writing 48kHz stereo s16le PCM to its
// stdout.
type transcoder struct {
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	waitOnce sync.Once
	waitErr  error
}

func ffmpegArgs(input string, config *Config) []string {
	args := []string{
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", strconv.Itoa(config.FFmpegReconnectDelay),
		"-nostdin",
		"-thread_queue_size", strconv.Itoa(config.FFmpegThreadQueueSize),
		"-rtbufsize", config.FFmpegRTBufferSize,
		"-probesize", strconv.Itoa(config.FFmpegProbeSize),
	}
	if config.FFmpegAnalyzeDuration > 0 {
		args = append(args, "-analyzeduration", strconv.Itoa(config.FFmpegAnalyzeDuration))
	}

	args = append(args,
		"-i", input,
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
	)

	if audioFilter := config.BuildAudioFilter(); audioFilter != "" {
		args = append(args, "-af", audioFilter)
	}

	return append(args, "pipe:1")
}

func startTranscoder(input string, config *Config, log *slog.Logger) (*transcoder, error) {
	return runTranscoder(exec.Command(config.FFmpegPath, ffmpegArgs(input, config)...), log)
}

// runTranscoder starts ffmpeg, a process that writes raw PCM to stdout.
func runTranscoder(ffmpeg *exec.Cmd, log *slog.Logger) (*transcoder, error) {
	ffmpegErr, err := ffmpeg.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stderr pipe: %w", ErrProcessSpawn, err)
	}

	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stdout pipe: %w", ErrProcessSpawn, err)
	}

	go func() {
		scanner := bufio.NewScanner(ffmpegErr)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.Contains(line, "Press [q] to stop") &&
				!strings.Contains(line, "size=") &&
				!strings.Contains(line, "time=") {
				log.Debug(line, loggerNameKey, "ffmpeg")
			}
		}
	}()

	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %w", ErrProcessSpawn, err)
	}

	return &transcoder{cmd: ffmpeg, stdout: ffmpegOut}, nil
}

// kill terminates the process and reaps it.
func (t *transcoder) kill() {
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.wait()
}

func (t *transcoder) wait() error {
	t.waitOnce.Do(func() {
		t.waitErr = t.cmd.Wait()
	})
	return t.waitErr
}
