package confirmation

import (
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

const imageSize = 256

// Payload is the text scanned at the reception desk.
func Payload(appointmentID int64, patientName, doctorName string, at time.Time) string {
	return fmt.Sprintf("Appointment:%d|Patient:%s|Doctor:%s|At:%s",
		appointmentID, patientName, doctorName, at.Format("2006-01-02 15:04"))
}

// Encode renders text as a PNG QR code with high error correction.
func Encode(text string) ([]byte, error) {
	png, err := qrcode.Encode(text, qrcode.High, imageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// Encoder is the function shape the appointment service depends on.
type Encoder func(text string) ([]byte, error)
