package relay

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
)

// saveScreenshot 将客户端回传的 Base64 图像落盘，返回文件路径
func (r *Relay) saveScreenshot(requestID, imageBase64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return "", fmt.Errorf("failed to decode screenshot data: %w", err)
	}

	if err := os.MkdirAll(r.opts.ScreenshotDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}

	filename := fmt.Sprintf("screenshot_%s_%d.png", requestID, time.Now().UnixMilli())
	location := filepath.Join(r.opts.ScreenshotDir, filename)

	if err := os.WriteFile(location, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write screenshot file: %w", err)
	}

	logger.InfoF("Screenshot saved to %s (%d bytes)", location, len(data))
	return location, nil
}
