package gradingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// UploadSubmission uploads one scanned file for one student.
func (c *Client) UploadSubmission(ctx context.Context, examID string, file UploadFile, studentID string) (Submission, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writeFilePart(writer, "file", file); err != nil {
		return Submission{}, err
	}
	if err := writer.WriteField("student_id", studentID); err != nil {
		return Submission{}, fmt.Errorf("write student_id field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Submission{}, fmt.Errorf("close multipart body: %w", err)
	}

	var submission Submission
	err := c.do(ctx, request{
		operation:   "upload_submission",
		method:      http.MethodPost,
		path:        "/api/v1/exams/" + segment(examID) + "/submissions",
		body:        body,
		contentType: writer.FormDataContentType(),
		fallback:    "Failed to upload submission",
	}, &submission)
	return submission, err
}

// UploadBatch uploads several files in one request. studentMapping maps
// filename to student id as the backend expects; manifest, when present, is
// sent alongside so the backend can resolve files by client id instead.
func (c *Client) UploadBatch(ctx context.Context, examID string, files []UploadFile, studentMapping map[string]string, manifest []ManifestEntry) (BatchResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, file := range files {
		if err := writeFilePart(writer, "files[]", file); err != nil {
			return BatchResult{}, err
		}
	}

	mapping, err := json.Marshal(studentMapping)
	if err != nil {
		return BatchResult{}, fmt.Errorf("encode student mapping: %w", err)
	}
	if err := writer.WriteField("student_mapping", string(mapping)); err != nil {
		return BatchResult{}, fmt.Errorf("write student_mapping field: %w", err)
	}

	if len(manifest) > 0 {
		encoded, err := json.Marshal(manifest)
		if err != nil {
			return BatchResult{}, fmt.Errorf("encode file manifest: %w", err)
		}
		if err := writer.WriteField("file_manifest", string(encoded)); err != nil {
			return BatchResult{}, fmt.Errorf("write file_manifest field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return BatchResult{}, fmt.Errorf("close multipart body: %w", err)
	}

	var result BatchResult
	err = c.do(ctx, request{
		operation:   "upload_batch",
		method:      http.MethodPost,
		path:        "/api/v1/exams/" + segment(examID) + "/submissions/batch",
		body:        body,
		contentType: writer.FormDataContentType(),
		fallback:    "Failed to upload batch",
	}, &result)
	return result, err
}

// GetBatchStatus reports the processing progress of a batch.
func (c *Client) GetBatchStatus(ctx context.Context, batchID string) (BatchStatus, error) {
	var status BatchStatus
	err := c.do(ctx, request{
		operation: "get_batch_status",
		method:    http.MethodGet,
		path:      "/api/v1/batches/" + segment(batchID) + "/status",
		fallback:  "Failed to get batch status",
	}, &status)
	return status, err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFilePart(writer *multipart.Writer, field string, file UploadFile) error {
	contentType := strings.TrimSpace(file.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(file.Name)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(file.Content); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}
