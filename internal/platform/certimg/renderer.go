package certimg

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/types"
)

const (
	certWidth  = 1200
	certHeight = 850
)

// Renderer draws certificate PNGs. The ledgers only see the byte slice; the
// drawing is self-contained so no template assets are needed at runtime.
type Renderer struct {
	log       *logger.Logger
	titleFace font.Face
	bodyFace  font.Face
}

func NewRenderer(log *logger.Logger) (*Renderer, error) {
	titleFace, err := faceFromTTF(gobold.TTF, 52)
	if err != nil {
		return nil, fmt.Errorf("load title font: %w", err)
	}
	bodyFace, err := faceFromTTF(goregular.TTF, 30)
	if err != nil {
		return nil, fmt.Errorf("load body font: %w", err)
	}
	return &Renderer{
		log:       log.With("service", "CertificateRenderer"),
		titleFace: titleFace,
		bodyFace:  bodyFace,
	}, nil
}

func faceFromTTF(ttf []byte, size float64) (font.Face, error) {
	parsedFont, err := truetype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("parse TTF: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

func (r *Renderer) RenderMembershipCertificate(membership *types.Membership, member *types.Member) ([]byte, error) {
	if membership == nil || member == nil {
		return nil, fmt.Errorf("membership and member required")
	}
	title := fmt.Sprintf("Membership Certificate %d", membership.Year)
	lines := []string{
		member.FullName(),
		fmt.Sprintf("Organization: %s", membership.Organization),
		fmt.Sprintf("Category: %s", membership.Category),
	}
	if membership.FreeViaCompanion {
		lines = append(lines, "Granted via companion membership")
	}
	return r.draw(title, lines)
}

func (r *Renderer) RenderSubscriptionCertificate(sub *types.Subscription, member *types.Member) ([]byte, error) {
	if sub == nil || member == nil {
		return nil, fmt.Errorf("subscription and member required")
	}
	title := fmt.Sprintf("Service Certificate %d", sub.Year)
	lines := []string{
		member.FullName(),
		fmt.Sprintf("Service: %s", sub.Kind),
	}
	if sub.Kind == types.KindInsurance {
		lines = append(lines,
			fmt.Sprintf("Insurance tier: %s", sub.Options.InsuranceTier),
			fmt.Sprintf("Hives covered: %d", sub.HiveCount),
		)
	}
	return r.draw(title, lines)
}

func (r *Renderer) draw(title string, lines []string) ([]byte, error) {
	dc := gg.NewContext(certWidth, certHeight)

	dc.SetColor(color.White)
	dc.Clear()

	// Border
	dc.SetRGB(0.85, 0.65, 0.1)
	dc.SetLineWidth(8)
	dc.DrawRectangle(30, 30, certWidth-60, certHeight-60)
	dc.Stroke()

	dc.SetFontFace(r.titleFace)
	dc.SetRGB(0.1, 0.1, 0.1)
	tw, _ := dc.MeasureString(title)
	dc.DrawString(title, (certWidth-tw)/2, 180)

	dc.SetFontFace(r.bodyFace)
	y := 320.0
	for _, line := range lines {
		lw, _ := dc.MeasureString(line)
		dc.DrawString(line, (certWidth-lw)/2, y)
		y += 70
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}
