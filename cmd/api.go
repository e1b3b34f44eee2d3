package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fatih/color"
)

// callLocal hits the local sync api using the saved context for the
// server address and user. Non-2xx replies are printed and reported as an
// error so commands can just return.
func callLocal(method, path string, body interface{}, out interface{}) error {
	ctx := readContext()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, ctx.Server+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", fmt.Sprintf("%d", ctx.UserID))

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		color.Red("error calling %s: %v", ctx.Server, err)
		return err
	}
	defer res.Body.Close()

	buf, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(buf, &apiErr); err == nil && apiErr.Error != "" {
			color.Red("%s", apiErr.Error)
		} else {
			color.Red("request failed with status %d", res.StatusCode)
		}
		return fmt.Errorf("status %d", res.StatusCode)
	}

	if out != nil {
		return json.Unmarshal(buf, out)
	}
	return nil
}
