// Package artifacts stores the files a job produces on the local filesystem.
//
// Layout under the data root:
//
//	jobs/<job_id>/script.json
//	jobs/<job_id>/scene_<n>.png
//	jobs/<job_id>/voiceover.mp3
//	jobs/<job_id>/final.mp4
//	rejected/<job_id>_<attempt>.txt
//
// Files are kept after a job fails so they can be inspected; nothing here
// deletes a job directory except an explicit Purge.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"shortform/internal/pkg/errors"
	"shortform/internal/script"
)

type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	for _, dir := range []string{filepath.Join(root, "jobs"), filepath.Join(root, "rejected")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "artifacts.NewStore", "create data directory")
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.root, "jobs", jobID)
}

func (s *Store) write(jobID, name string, data []byte) (string, error) {
	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// SaveScript persists the accepted script document.
func (s *Store) SaveScript(jobID string, doc *script.Document) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "artifacts.SaveScript", "marshal document")
	}
	path, err := s.write(jobID, "script.json", data)
	if err != nil {
		return "", errors.Wrap(err, "artifacts.SaveScript", "write script")
	}
	return path, nil
}

// SaveImage persists one scene image, numbered by scene position.
func (s *Store) SaveImage(jobID string, sceneIndex int, data []byte) (string, error) {
	path, err := s.write(jobID, fmt.Sprintf("scene_%d.png", sceneIndex), data)
	if err != nil {
		return "", errors.Wrap(err, "artifacts.SaveImage", "write image")
	}
	return path, nil
}

// SaveAudio persists the synthesized voiceover track.
func (s *Store) SaveAudio(jobID string, data []byte) (string, error) {
	path, err := s.write(jobID, "voiceover.mp3", data)
	if err != nil {
		return "", errors.Wrap(err, "artifacts.SaveAudio", "write audio")
	}
	return path, nil
}

// VideoPath returns where the render service should write the final video.
func (s *Store) VideoPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "final.mp4")
}

// SaveRejected records raw model output that failed parsing or validation.
// The attempt number keeps successive rejections from overwriting each other.
func (s *Store) SaveRejected(jobID string, attempt int, raw string) (string, error) {
	path := filepath.Join(s.root, "rejected", fmt.Sprintf("%s_%d.txt", jobID, attempt))
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		return "", errors.Wrap(err, "artifacts.SaveRejected", "write rejected output")
	}
	return path, nil
}

// Purge removes every file belonging to a job.
func (s *Store) Purge(jobID string) error {
	return os.RemoveAll(s.jobDir(jobID))
}
