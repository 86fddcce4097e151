package steps

import (
	"encoding/json"
)

type UploadRequest struct {
	Filename     string `json:"filename,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	DeclaredSize int64  `json:"declared_size,omitempty"`
	TotalChunks  int    `json:"total_chunks,omitempty"`
	Title        string `json:"title,omitempty"`
}

var DefaultUploadRequest = UploadRequest{
	Filename:     "colors.mp4",
	ContentType:  "video/mp4",
	DeclaredSize: 3 * testChunkSize,
	Title:        "Cucumber upload",
}

func (u UploadRequest) ToJSON() (string, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
