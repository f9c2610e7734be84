package shipment

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidTrackingNumber is returned for empty or malformed tracking numbers.
var ErrInvalidTrackingNumber = errors.New("shipment: invalid tracking number")

// Type is the tracking number family a provider can serve.
type Type string

const (
	Container Type = "container"
	AWB       Type = "awb"
	Parcel    Type = "parcel"
)

// Types lists every tracking type.
func Types() []Type { return []Type{Container, AWB, Parcel} }

// ParseType parses a tracking type name.
func ParseType(value string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(value))) {
	case Container:
		return Container, true
	case AWB, "air_waybill", "airwaybill":
		return AWB, true
	case Parcel:
		return Parcel, true
	}
	return "", false
}

var (
	validNumber     = regexp.MustCompile(`^[A-Z0-9]{5,40}$`)
	containerNumber = regexp.MustCompile(`^[A-Z]{4}[0-9]{7}$`)
	awbNumber       = regexp.MustCompile(`^[0-9]{11}$`)
	upsNumber       = regexp.MustCompile(`^1Z[0-9A-Z]{16}$`)
)

// NormalizeNumber upper-cases the tracking number and strips spaces, dashes and
// dots. The result must be 5-40 alphanumeric characters.
func NormalizeNumber(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '.':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(raw)))
	if cleaned == "" || !validNumber.MatchString(cleaned) {
		return "", ErrInvalidTrackingNumber
	}
	return cleaned, nil
}

// Detection is the outcome of inspecting a tracking number and optional hint.
type Detection struct {
	Type    Type
	Carrier string
}

// Detect infers the tracking type and carrier. A hint naming a tracking type or a
// known carrier decides the type; otherwise the number format does.
func Detect(number, hint string) Detection {
	var d Detection
	if hint = strings.TrimSpace(hint); hint != "" {
		if t, ok := ParseType(hint); ok {
			d.Type = t
		} else if c, ok := carriers[strings.ToLower(hint)]; ok {
			d.Type = c.kind
			d.Carrier = c.name
		}
	}
	if d.Type == "" {
		d.Type = InferType(number)
	}
	if d.Carrier == "" {
		d.Carrier = CarrierFromNumber(number, d.Type)
	}
	return d
}

// InferType classifies a normalised tracking number by its format.
func InferType(number string) Type {
	switch {
	case containerNumber.MatchString(number):
		return Container
	case awbNumber.MatchString(number):
		return AWB
	default:
		return Parcel
	}
}

// CarrierFromNumber resolves a carrier from well-known number prefixes.
func CarrierFromNumber(number string, t Type) string {
	switch t {
	case Container:
		if len(number) >= 4 {
			return ownerCodes[number[:4]]
		}
	case AWB:
		if len(number) >= 3 {
			return airlinePrefixes[number[:3]]
		}
	case Parcel:
		if upsNumber.MatchString(number) {
			return "UPS"
		}
	}
	return ""
}

type carrierInfo struct {
	name string
	kind Type
}

var ownerCodes = map[string]string{
	"MEDU": "MSC",
	"MSCU": "MSC",
	"MSDU": "MSC",
	"MAEU": "Maersk",
	"MSKU": "Maersk",
	"MRKU": "Maersk",
	"CMAU": "CMA CGM",
	"CGMU": "CMA CGM",
	"HLCU": "Hapag-Lloyd",
	"HLXU": "Hapag-Lloyd",
	"COSU": "COSCO",
	"CBHU": "COSCO",
	"ONEY": "ONE",
	"ONEU": "ONE",
	"EGLV": "Evergreen",
	"EISU": "Evergreen",
	"OOLU": "OOCL",
	"ZIMU": "ZIM",
	"YMLU": "Yang Ming",
}

var airlinePrefixes = map[string]string{
	"020": "Lufthansa Cargo",
	"057": "Air France Cargo",
	"074": "KLM Cargo",
	"125": "British Airways World Cargo",
	"157": "Qatar Airways Cargo",
	"160": "Cathay Cargo",
	"176": "Emirates SkyCargo",
	"180": "Korean Air Cargo",
	"235": "Turkish Cargo",
	"618": "Singapore Airlines Cargo",
	"784": "China Southern Cargo",
}

var carriers = map[string]carrierInfo{
	"msc":         {name: "MSC", kind: Container},
	"maersk":      {name: "Maersk", kind: Container},
	"cma":         {name: "CMA CGM", kind: Container},
	"cma cgm":     {name: "CMA CGM", kind: Container},
	"hapag":       {name: "Hapag-Lloyd", kind: Container},
	"hapag-lloyd": {name: "Hapag-Lloyd", kind: Container},
	"cosco":       {name: "COSCO", kind: Container},
	"one":         {name: "ONE", kind: Container},
	"evergreen":   {name: "Evergreen", kind: Container},
	"oocl":        {name: "OOCL", kind: Container},
	"zim":         {name: "ZIM", kind: Container},
	"emirates":    {name: "Emirates SkyCargo", kind: AWB},
	"lufthansa":   {name: "Lufthansa Cargo", kind: AWB},
	"qatar":       {name: "Qatar Airways Cargo", kind: AWB},
	"turkish":     {name: "Turkish Cargo", kind: AWB},
	"ups":         {name: "UPS", kind: Parcel},
	"dhl":         {name: "DHL", kind: Parcel},
	"fedex":       {name: "FedEx", kind: Parcel},
	"usps":        {name: "USPS", kind: Parcel},
	"uds":         {name: "UDS", kind: Parcel},
}
