// package formatter renders queues, downloads, favorites and playback state as text, JSON, CSV or Markdown
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/desertthunder/tapedeck/internal/shared"
	"github.com/gabriel-vasile/mimetype"
)

// Format names an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts text, json, csv, markdown (or md). An empty string selects text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidInput, s)
	}
}

// QueueExport is a named snapshot of a queue and, optionally, where playback stood in it.
type QueueExport struct {
	Name   string                `json:"name"`
	State  *models.PlaybackState `json:"state,omitempty"`
	Tracks []models.Track        `json:"-"`
}

// FormatDuration renders d as m:ss, or h:mm:ss past an hour. Zero renders as "-".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	total := int(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// TracksToCSV converts tracks to CSV with columns: ID, Title, Artist, Album, Duration, URI.
// Duration is in whole seconds.
func TracksToCSV(tracks []models.Track) ([]byte, error) {
	rows := make([][]string, len(tracks))
	for i, t := range tracks {
		rows[i] = []string{
			t.ID,
			t.Title,
			t.Artist,
			t.Album,
			strconv.Itoa(int(t.Duration / time.Second)),
			t.URI,
		}
	}
	return writeCSV([]string{"ID", "Title", "Artist", "Album", "Duration", "URI"}, rows)
}

func trackLine(t models.Track) string {
	if t.Artist == "" {
		return t.DisplayTitle()
	}
	return fmt.Sprintf("%s - %s", t.Artist, t.DisplayTitle())
}

func isCurrent(export *QueueExport, i int) bool {
	return export.State != nil && export.State.Index == i
}

// ExportToMarkdown converts a queue to Markdown with an optional cover image. The current track is bold.
func ExportToMarkdown(export *QueueExport, imageFilename string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", export.Name)
	if imageFilename != "" {
		fmt.Fprintf(&buf, "![Cover](%s)\n\n", imageFilename)
	}

	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(export.Tracks))
	if s := export.State; s != nil {
		fmt.Fprintf(&buf, "**State**: %s\n", s.State)
		fmt.Fprintf(&buf, "**Repeat**: %s\n", s.Repeat)
	}
	buf.WriteString("\n## Tracks\n\n")

	for i, track := range export.Tracks {
		albumPart := ""
		if track.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", track.Album)
		}
		line := fmt.Sprintf("%s%s [%s]", trackLine(track), albumPart, FormatDuration(track.Duration))
		if isCurrent(export, i) {
			line = "**" + line + "**"
		}
		fmt.Fprintf(&buf, "%d. %s\n", i+1, line)
	}
	return buf.Bytes(), nil
}

// ExportToText converts a queue to plain text. The current track is marked with ">".
func ExportToText(export *QueueExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Queue: %s\n", export.Name)
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(export.Tracks))

	for i, track := range export.Tracks {
		marker := " "
		if isCurrent(export, i) {
			marker = ">"
		}
		fmt.Fprintf(&buf, "%s %d. %s\n", marker, i+1, trackLine(track))
	}
	return buf.Bytes(), nil
}

// DownloadsToCSV converts download records to CSV.
func DownloadsToCSV(records []models.DownloadRecord) ([]byte, error) {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			r.TrackID,
			string(r.Status),
			strconv.Itoa(r.Progress),
			r.FilePath,
			r.Error,
			r.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}
	return writeCSV([]string{"TrackID", "Status", "Progress", "File", "Error", "Updated"}, rows)
}

// DownloadsToText renders one line per record.
func DownloadsToText(records []models.DownloadRecord) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		fmt.Fprintf(&buf, "%-24s %-9s %3d%%", r.TrackID, r.Status, r.Progress)
		switch {
		case r.FilePath != "":
			fmt.Fprintf(&buf, "  %s", r.FilePath)
		case r.Error != "":
			fmt.Fprintf(&buf, "  error: %s", r.Error)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// FavoritesToCSV converts favorites to CSV.
func FavoritesToCSV(favorites []models.Favorite) ([]byte, error) {
	rows := make([][]string, len(favorites))
	for i, f := range favorites {
		rows[i] = []string{f.TrackID, f.CreatedAt.UTC().Format(time.RFC3339)}
	}
	return writeCSV([]string{"TrackID", "Added"}, rows)
}

// FavoritesToText renders favorites oldest first, one per line.
func FavoritesToText(favorites []models.Favorite) []byte {
	var buf bytes.Buffer
	for _, f := range favorites {
		fmt.Fprintf(&buf, "%s  %s\n", f.CreatedAt.Local().Format(time.DateTime), f.TrackID)
	}
	return buf.Bytes()
}

// StateToText renders a playback state. current may be nil when the index is out of the queue.
func StateToText(state models.PlaybackState, current *models.Track) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "State:    %s\n", state.State)
	fmt.Fprintf(&buf, "Playing:  %t\n", state.IsPlaying)
	if state.Index < 0 {
		buf.WriteString("Track:    none\n")
	} else if current != nil {
		fmt.Fprintf(&buf, "Track:    %d. %s\n", state.Index+1, trackLine(*current))
	} else {
		fmt.Fprintf(&buf, "Track:    %d\n", state.Index+1)
	}
	fmt.Fprintf(&buf, "Position: %s / %s\n", FormatDuration(state.Position), FormatDuration(state.Duration))
	fmt.Fprintf(&buf, "Repeat:   %s\n", state.Repeat)
	fmt.Fprintf(&buf, "Shuffle:  %t\n", state.Shuffle)
	return buf.Bytes()
}

// SnapshotToText renders a saved restore snapshot.
func SnapshotToText(s models.RestoreSnapshot) []byte {
	if s.IsEmpty() {
		return []byte("No saved queue\n")
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Index:    %d of %d\n", s.Index+1, len(s.TrackIDs))
	fmt.Fprintf(&buf, "Position: %s\n", FormatDuration(s.Position))
	fmt.Fprintf(&buf, "Tracks:   %s\n", strings.Join(s.TrackIDs, ", "))
	return buf.Bytes()
}

// Render writes v in format. Supported values are []models.Track, *QueueExport, []models.DownloadRecord,
// models.DownloadRecord, []models.Favorite, models.PlaybackState and models.RestoreSnapshot.
// Every value renders as JSON; the rest depends on the type.
func Render(w io.Writer, format Format, v any) error {
	if format == FormatJSON {
		data, err := shared.MarshalJSON(v, true)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	}

	data, err := render(format, v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func render(format Format, v any) ([]byte, error) {
	unsupported := fmt.Errorf("%w: %s output is not available for %T", shared.ErrInvalidInput, format, v)

	switch val := v.(type) {
	case []models.Track:
		return render(format, &QueueExport{Name: "tracks", Tracks: val})
	case *QueueExport:
		switch format {
		case FormatCSV:
			return TracksToCSV(val.Tracks)
		case FormatMarkdown:
			return ExportToMarkdown(val, "")
		default:
			return ExportToText(val)
		}
	case models.DownloadRecord:
		return render(format, []models.DownloadRecord{val})
	case []models.DownloadRecord:
		switch format {
		case FormatCSV:
			return DownloadsToCSV(val)
		case FormatText:
			return DownloadsToText(val), nil
		}
	case []models.Favorite:
		switch format {
		case FormatCSV:
			return FavoritesToCSV(val)
		case FormatText:
			return FavoritesToText(val), nil
		}
	case models.PlaybackState:
		if format == FormatText {
			return StateToText(val, nil), nil
		}
	case models.RestoreSnapshot:
		if format == FormatText {
			return SnapshotToText(val), nil
		}
	}
	return nil, unsupported
}

// DownloadImage downloads an image with client and returns the raw bytes. A nil client uses a 30s timeout.
func DownloadImage(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty URL provided", shared.ErrInvalidInput)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return imageData, nil
}

// ToMetadataJSON generates the queue metadata (without tracks) as JSON.
func ToMetadataJSON(export *QueueExport) ([]byte, error) {
	meta := struct {
		*QueueExport
		TrackCount int `json:"track_count"`
	}{export, len(export.Tracks)}
	return shared.MarshalJSON(meta, true)
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	TracksFile   string
	MetadataFile string
}

// WriteCSVExport writes {base}_tracks.csv and {base}_metadata.json. base defaults to the queue name.
func WriteCSVExport(export *QueueExport, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = export.Name
	}

	csvData, err := TracksToCSV(export.Tracks)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	tracksFile := baseFilepath + "_tracks.csv"
	if err := os.WriteFile(tracksFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	metadataJSON, err := ToMetadataJSON(export)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}

	metadataFile := baseFilepath + "_metadata.json"
	if err := os.WriteFile(metadataFile, metadataJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	return &CSVExportResult{TracksFile: tracksFile, MetadataFile: metadataFile}, nil
}

// MarkdownExportResult contains information about files created by WriteMarkdownExport
type MarkdownExportResult struct {
	Directory  string
	Files      []string
	CoverImage string
	// Warnings collects non-fatal cover image failures.
	Warnings []string
}

// WriteMarkdownExport writes {dir}/README.md and, when imageURL downloads, a cover named by its detected type.
//
// outputDir defaults to the queue name.
func WriteMarkdownExport(ctx context.Context, client *http.Client, export *QueueExport, outputDir, imageURL string) (*MarkdownExportResult, error) {
	if outputDir == "" {
		outputDir = export.Name
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &MarkdownExportResult{Directory: outputDir}

	var coverImageFilename string
	if imageURL != "" {
		imageData, err := DownloadImage(ctx, client, imageURL)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to download cover image: %v", err))
		} else {
			coverImageFilename = "cover" + mimetype.Detect(imageData).Extension()
			coverImagePath := filepath.Join(outputDir, coverImageFilename)
			if err := os.WriteFile(coverImagePath, imageData, 0644); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("failed to save cover image: %v", err))
				coverImageFilename = ""
			} else {
				result.CoverImage = coverImagePath
				result.Files = append(result.Files, coverImagePath)
			}
		}
	}

	mdData, err := ExportToMarkdown(export, coverImageFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}
	result.Files = append(result.Files, mdFile)
	return result, nil
}

// WriteTextExport writes the queue as plain text, defaulting to {name}_tracks.txt.
func WriteTextExport(export *QueueExport, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_tracks.txt", export.Name)
	}

	textData, err := ExportToText(export)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}
	if err := os.WriteFile(path, textData, 0644); err != nil {
		return "", fmt.Errorf("failed to write text file: %w", err)
	}
	return path, nil
}
