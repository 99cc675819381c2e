package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"votegate/internal/config"
	"votegate/internal/facematch"
	"votegate/internal/template"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Bulk-enroll face templates from a directory of portraits",
	Long: `Enroll face templates from a directory of portrait images.
Each file enrolls one subject; the subject id is the file name without
its extension (e.g. STU008.jpg enrolls STU008).

Examples:
  # Enroll all portraits in ./portraits
  votegate enroll --dir ./portraits

  # Re-enroll, replacing existing templates
  votegate enroll --dir ./portraits --replace`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("dir", "", "Directory of portrait images (required)")
	enrollCmd.Flags().Bool("replace", false, "Replace templates of already enrolled subjects")
	enrollCmd.Flags().Int("concurrency", 4, "Number of concurrent embedding requests")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

// imageExtensions are the portrait formats the embedding service accepts.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// EnrollResult represents the result of a bulk enrollment run
type EnrollResult struct {
	Success       bool     `json:"success"`
	TotalFiles    int      `json:"total_files"`
	Enrolled      int      `json:"enrolled"`
	Skipped       int      `json:"skipped"`
	Errors        int      `json:"errors"`
	FailedFiles   []string `json:"failed_files,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
	DurationHuman string   `json:"duration_human,omitempty"`
}

// listPortraits returns the portrait files in dir, sorted by name.
func listPortraits(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading portrait directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

// enrollOne extracts the face embedding from one portrait and stores it.
func enrollOne(ctx context.Context, client *facematch.Client, store template.Store, path string, replace bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	embedding, err := client.Extract(ctx, data)
	if err != nil {
		return fmt.Errorf("extracting face from %s: %w", filepath.Base(path), err)
	}

	subjectID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tpl := template.Template{
		SubjectID:  subjectID,
		Embedding:  embedding,
		EnrolledAt: time.Now(),
	}
	if replace {
		return store.Replace(ctx, tpl)
	}
	return store.Put(ctx, tpl)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	dir := mustGetString(cmd, "dir")
	replace := mustGetBool(cmd, "replace")
	concurrency := mustGetInt(cmd, "concurrency")
	jsonOutput := mustGetBool(cmd, "json")

	if dir == "" {
		return errors.New("--dir is required")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, closeStore, err := buildTemplateStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	files, err := listPortraits(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no portrait images found in %s", dir)
	}

	if !jsonOutput {
		fmt.Printf("Enrolling %d portraits from %s\n\n", len(files), dir)
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Enrolling faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("faces"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	client := facematch.NewClient(cfg.Embedding.URL, cfg.Matching.ComparableFaceRatio, cfg.Embedding.Timeout)
	ctx := context.Background()
	startTime := time.Now()

	var (
		mu       sync.Mutex
		enrolled int
		skipped  int
		failed   []string
	)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, path := range files {
		wg.Add(1)
		sem <- struct{}{}
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := enrollOne(ctx, client, store, path, replace)

			mu.Lock()
			switch {
			case err == nil:
				enrolled++
			case errors.Is(err, template.ErrAlreadyEnrolled):
				skipped++
			default:
				failed = append(failed, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			}
			mu.Unlock()

			if bar != nil {
				bar.Add(1)
			}
		}(path)
	}
	wg.Wait()

	duration := time.Since(startTime)
	result := EnrollResult{
		Success:       len(failed) == 0,
		TotalFiles:    len(files),
		Enrolled:      enrolled,
		Skipped:       skipped,
		Errors:        len(failed),
		FailedFiles:   failed,
		DurationMs:    duration.Milliseconds(),
		DurationHuman: formatDuration(duration),
	}

	if jsonOutput {
		result.DurationHuman = ""
		return outputJSON(result)
	}

	fmt.Println("\n\nEnrollment complete!")
	fmt.Printf("  Portraits found:   %d\n", result.TotalFiles)
	fmt.Printf("  Enrolled:          %d\n", result.Enrolled)
	if result.Skipped > 0 {
		fmt.Printf("  Already enrolled:  %d (use --replace to overwrite)\n", result.Skipped)
	}
	if result.Errors > 0 {
		fmt.Printf("  Errors:            %d\n", result.Errors)
		for _, f := range failed {
			fmt.Printf("    %s\n", f)
		}
	}
	fmt.Printf("  Duration:          %s\n", result.DurationHuman)

	if len(failed) > 0 {
		return fmt.Errorf("%d portraits failed to enroll", len(failed))
	}
	return nil
}
