package capture

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// CSSColorResolver converts CSS color syntax to sRGB without a browser. It
// understands hex, named black/white/transparent, rgb/rgba, hsl/hsla, hwb,
// lab, lch, oklab, oklch and color() in srgb, srgb-linear and display-p3.
type CSSColorResolver struct{}

// ResolveColor implements ColorResolver.
func (CSSColorResolver) ResolveColor(_ context.Context, value string) (color.NRGBA, error) {
	c, ok := parseColor(value)
	if !ok {
		return color.NRGBA{}, fmt.Errorf("capture: unsupported color %q", value)
	}
	return c, nil
}

// FormatRGBA renders c the way a 2D canvas readback reports it.
func FormatRGBA(c color.NRGBA) string {
	a := strconv.FormatFloat(float64(c.A)/255, 'f', -1, 64)
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", c.R, c.G, c.B, a)
}

func parseColor(input string) (color.NRGBA, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	switch s {
	case "":
		return color.NRGBA{}, false
	case "transparent":
		return color.NRGBA{}, true
	case "black":
		return color.NRGBA{A: 255}, true
	case "white":
		return color.NRGBA{R: 255, G: 255, B: 255, A: 255}, true
	}
	if strings.HasPrefix(s, "#") {
		return parseHex(s[1:])
	}
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return color.NRGBA{}, false
	}
	name := strings.TrimSpace(s[:open])
	args, alpha, ok := splitColorArgs(s[open+1 : len(s)-1])
	if !ok {
		return color.NRGBA{}, false
	}
	switch name {
	case "rgb", "rgba":
		return rgbFunc(args, alpha)
	case "hsl", "hsla":
		return hslFunc(args, alpha)
	case "hwb":
		return hwbFunc(args, alpha)
	case "lab":
		return labFunc(args, alpha)
	case "lch":
		return lchFunc(args, alpha)
	case "oklab":
		return oklabFunc(args, alpha)
	case "oklch":
		return oklchFunc(args, alpha)
	case "color":
		return colorFunc(args, alpha)
	}
	return color.NRGBA{}, false
}

func parseHex(hex string) (color.NRGBA, bool) {
	switch len(hex) {
	case 3, 4:
		exp := make([]byte, 0, 8)
		for i := 0; i < len(hex); i++ {
			exp = append(exp, hex[i], hex[i])
		}
		return parseHex(string(exp))
	case 6, 8:
	default:
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	if len(hex) == 6 {
		return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, true
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, true
}

// splitColorArgs splits "a b c / d" or "a, b, c, d" into components and an
// optional alpha token.
func splitColorArgs(body string) ([]string, string, bool) {
	body = strings.TrimSpace(body)
	alpha := ""
	if i := strings.IndexByte(body, '/'); i >= 0 {
		alpha = strings.TrimSpace(body[i+1:])
		body = body[:i]
	}
	fields := strings.FieldsFunc(body, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' })
	if len(fields) == 4 && alpha == "" && strings.Contains(body, ",") {
		alpha = fields[3]
		fields = fields[:3]
	}
	if len(fields) < 3 {
		return nil, "", false
	}
	return fields, alpha, true
}

// number parses a component; percent reports whether it carried "%".
// The keyword none reads as zero.
func number(tok string) (v float64, percent bool, ok bool) {
	tok = strings.TrimSpace(tok)
	if tok == "none" {
		return 0, false, true
	}
	if strings.HasSuffix(tok, "%") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(tok, "%"), 64)
		return f, true, err == nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	return f, false, err == nil
}

// scaled returns tok as a number where 100% equals full.
func scaled(tok string, full float64) (float64, bool) {
	v, pct, ok := number(tok)
	if !ok {
		return 0, false
	}
	if pct {
		return v / 100 * full, true
	}
	return v, true
}

// hue parses an angle in degrees, accepting deg, rad, grad and turn units.
func hue(tok string) (float64, bool) {
	tok = strings.TrimSpace(tok)
	units := []struct {
		suffix string
		factor float64
	}{
		{"deg", 1},
		{"grad", 0.9},
		{"rad", 180 / math.Pi},
		{"turn", 360},
	}
	for _, u := range units {
		if strings.HasSuffix(tok, u.suffix) {
			f, err := strconv.ParseFloat(strings.TrimSuffix(tok, u.suffix), 64)
			return f * u.factor, err == nil
		}
	}
	v, _, ok := number(tok)
	return v, ok
}

func alphaOf(tok string) (float64, bool) {
	if tok == "" {
		return 1, true
	}
	v, ok := scaled(tok, 1)
	return clamp01(v), ok
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toByte(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

func fromRGB(r, g, b, a float64) color.NRGBA {
	return color.NRGBA{R: toByte(r), G: toByte(g), B: toByte(b), A: toByte(a)}
}

func srgbEncode(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign, x = -1, -x
	}
	if x <= 0.0031308 {
		return sign * 12.92 * x
	}
	return sign * (1.055*math.Pow(x, 1/2.4) - 0.055)
}

func srgbDecode(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign, x = -1, -x
	}
	if x <= 0.04045 {
		return sign * x / 12.92
	}
	return sign * math.Pow((x+0.055)/1.055, 2.4)
}

type vec3 [3]float64

type mat3 [3]vec3

func (m mat3) mul(v vec3) vec3 {
	return vec3{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

var (
	d50ToD65 = mat3{
		{0.9554734527042182, -0.023098536874261423, 0.0632593086610217},
		{-0.028369706963208136, 1.0099954580106629, 0.021041398966943008},
		{0.012314001688319899, -0.020507696433477912, 1.3303659366080753},
	}
	xyzToLinearSRGB = mat3{
		{3.2409699419045226, -1.537383177570094, -0.4986107602930034},
		{-0.9692436362808796, 1.8759675015077202, 0.04155505740717559},
		{0.05563007969699366, -0.20397695888897652, 1.0569715142428786},
	}
	linearP3ToXYZ = mat3{
		{0.48657094864821626, 0.26566769316909294, 0.1982172852343625},
		{0.22897456406974884, 0.6917385218365062, 0.079286914093745},
		{0, 0.04511338185890264, 1.043944368900976},
	}
	d50White = vec3{0.3457 / 0.3585, 1, (1 - 0.3457 - 0.3585) / 0.3585}
)

func linearToColor(lin vec3, a float64) color.NRGBA {
	return fromRGB(srgbEncode(lin[0]), srgbEncode(lin[1]), srgbEncode(lin[2]), a)
}

func rgbFunc(args []string, alpha string) (color.NRGBA, bool) {
	var ch [3]float64
	for i := 0; i < 3; i++ {
		v, ok := scaled(args[i], 255)
		if !ok {
			return color.NRGBA{}, false
		}
		ch[i] = v / 255
	}
	a, ok := alphaOf(alpha)
	if !ok {
		return color.NRGBA{}, false
	}
	return fromRGB(ch[0], ch[1], ch[2], a), true
}

func hslToRGB(h, s, l float64) (float64, float64, float64) {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	f := func(n float64) float64 {
		k := math.Mod(n+h/30, 12)
		a := s * math.Min(l, 1-l)
		return l - a*math.Max(-1, math.Min(math.Min(k-3, 9-k), 1))
	}
	return f(0), f(8), f(4)
}

func hslFunc(args []string, alpha string) (color.NRGBA, bool) {
	h, ok1 := hue(args[0])
	s, ok2 := scaled(args[1], 100)
	l, ok3 := scaled(args[2], 100)
	a, ok4 := alphaOf(alpha)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return color.NRGBA{}, false
	}
	r, g, b := hslToRGB(h, clamp01(s/100), clamp01(l/100))
	return fromRGB(r, g, b, a), true
}

func hwbFunc(args []string, alpha string) (color.NRGBA, bool) {
	h, ok1 := hue(args[0])
	w, ok2 := scaled(args[1], 100)
	bl, ok3 := scaled(args[2], 100)
	a, ok4 := alphaOf(alpha)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return color.NRGBA{}, false
	}
	w, bl = clamp01(w/100), clamp01(bl/100)
	if w+bl >= 1 {
		gray := w / (w + bl)
		return fromRGB(gray, gray, gray, a), true
	}
	r, g, b := hslToRGB(h, 1, 0.5)
	mix := func(c float64) float64 { return c*(1-w-bl) + w }
	return fromRGB(mix(r), mix(g), mix(b), a), true
}

func labToColor(l, aa, bb, alpha float64) color.NRGBA {
	const (
		kappa   = 24389.0 / 27
		epsilon = 216.0 / 24389
	)
	fy := (l + 16) / 116
	fx := aa/500 + fy
	fz := fy - bb/200
	xr := math.Pow(fx, 3)
	if xr <= epsilon {
		xr = (116*fx - 16) / kappa
	}
	yr := l / kappa
	if l > kappa*epsilon {
		yr = math.Pow(fy, 3)
	}
	zr := math.Pow(fz, 3)
	if zr <= epsilon {
		zr = (116*fz - 16) / kappa
	}
	xyz := vec3{xr * d50White[0], yr * d50White[1], zr * d50White[2]}
	return linearToColor(xyzToLinearSRGB.mul(d50ToD65.mul(xyz)), alpha)
}

func labFunc(args []string, alpha string) (color.NRGBA, bool) {
	l, ok1 := scaled(args[0], 100)
	a, ok2 := scaled(args[1], 125)
	b, ok3 := scaled(args[2], 125)
	al, ok4 := alphaOf(alpha)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return color.NRGBA{}, false
	}
	return labToColor(l, a, b, al), true
}

func lchFunc(args []string, alpha string) (color.NRGBA, bool) {
	l, ok1 := scaled(args[0], 100)
	c, ok2 := scaled(args[1], 150)
	h, ok3 := hue(args[2])
	al, ok4 := alphaOf(alpha)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return color.NRGBA{}, false
	}
	rad := h * math.Pi / 180
	return labToColor(l, c*math.Cos(rad), c*math.Sin(rad), al), true
}

func oklabToColor(l, a, b, alpha float64) color.NRGBA {
	l_ := l + 0.3963377774*a + 0.2158037573*b
	m_ := l - 0.1055613458*a - 0.0638541728*b
	s_ := l - 0.0894841775*a - 1.2914855480*b
	lc, mc, sc := l_*l_*l_, m_*m_*m_, s_*s_*s_
	lin := vec3{
		4.0767416621*lc - 3.3077115913*mc + 0.2309699292*sc,
		-1.2684380046*lc + 2.6097574011*mc - 0.3413193965*sc,
		-0.0041960863*lc - 0.7034186147*mc + 1.7076147010*sc,
	}
	return linearToColor(lin, alpha)
}

func oklabFunc(args []string, alpha string) (color.NRGBA, bool) {
	l, ok1 := scaled(args[0], 1)
	a, ok2 := scaled(args[1], 0.4)
	b, ok3 := scaled(args[2], 0.4)
	al, ok4 := alphaOf(alpha)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return color.NRGBA{}, false
	}
	return oklabToColor(l, a, b, al), true
}

func oklchFunc(args []string, alpha string) (color.NRGBA, bool) {
	l, ok1 := scaled(args[0], 1)
	c, ok2 := scaled(args[1], 0.4)
	h, ok3 := hue(args[2])
	al, ok4 := alphaOf(alpha)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return color.NRGBA{}, false
	}
	rad := h * math.Pi / 180
	return oklabToColor(l, c*math.Cos(rad), c*math.Sin(rad), al), true
}

func colorFunc(args []string, alpha string) (color.NRGBA, bool) {
	if len(args) < 4 {
		return color.NRGBA{}, false
	}
	space := args[0]
	var v vec3
	for i := 0; i < 3; i++ {
		f, ok := scaled(args[i+1], 1)
		if !ok {
			return color.NRGBA{}, false
		}
		v[i] = f
	}
	a, ok := alphaOf(alpha)
	if !ok {
		return color.NRGBA{}, false
	}
	switch space {
	case "srgb":
		return fromRGB(v[0], v[1], v[2], a), true
	case "srgb-linear":
		return linearToColor(v, a), true
	case "display-p3":
		lin := vec3{srgbDecode(v[0]), srgbDecode(v[1]), srgbDecode(v[2])}
		return linearToColor(xyzToLinearSRGB.mul(linearP3ToXYZ.mul(lin)), a), true
	}
	return color.NRGBA{}, false
}
