package tasks

import (
	"fmt"
	"strings"

	"github.com/bogem/id3v2"
	"github.com/desertthunder/tapedeck/internal/models"
	"github.com/gabriel-vasile/mimetype"
)

const mp3MIME = "audio/mpeg"

// sniffImage detects the type of data and reports whether it is an image.
//
// The extension falls back to .jpg for image types mimetype has no extension for.
func sniffImage(data []byte) (mime, ext string, ok bool) {
	m := mimetype.Detect(data)
	if !strings.HasPrefix(m.String(), "image/") {
		return m.String(), "", false
	}
	ext = m.Extension()
	if ext == "" {
		ext = ".jpg"
	}
	return m.String(), ext, true
}

// isMP3 sniffs the file at path.
func isMP3(path string) (bool, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to sniff %s: %w", path, err)
	}
	return m.Is(mp3MIME), nil
}

// tagFile writes title, artist, album and cover art frames into an MP3 file.
//
// Files that are not MP3 are left alone.
func tagFile(path string, track models.Track, art *artwork) error {
	ok, err := isMP3(path)
	if err != nil || !ok {
		return err
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("id3 open error: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(3)
	if track.Title != "" {
		tag.SetTitle(track.Title)
	}
	if track.Artist != "" {
		tag.SetArtist(track.Artist)
	}
	if track.Album != "" {
		tag.SetAlbum(track.Album)
	}

	if art != nil {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    art.mime,
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     art.data,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("id3 save error: %w", err)
	}
	return nil
}
