package client

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewUploadCommand constructs the `upload` command.
func NewUploadCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document and start its analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			analysis, _ := cmd.Flags().GetString("analysis-type")
			contentType, _ := cmd.Flags().GetString("content-type")
			options, _ := cmd.Flags().GetString("options")
			if user == "" {
				return fmt.Errorf("--user is required")
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			for k, v := range map[string]string{"user_id": user, "analysis_type": analysis, "options": options} {
				if v != "" {
					if err := mw.WriteField(k, v); err != nil {
						return err
					}
				}
			}
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(args[0])))
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			h.Set("Content-Type", contentType)
			part, err := mw.CreatePart(h)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, f); err != nil {
				return err
			}
			if err := mw.Close(); err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, baseURL()+"/v1/uploads", &body)
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", mw.FormDataContentType())
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			var out map[string]any
			if err := decodeResponse(resp, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().String("user", "", "Owning user id")
	cmd.Flags().String("analysis-type", "", "Analysis type (server default: full)")
	cmd.Flags().String("content-type", "", "Content type of the file")
	cmd.Flags().String("options", "", "Analysis options as a JSON object")
	return cmd
}
