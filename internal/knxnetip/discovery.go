package knxnetip

import (
	"fmt"
	"net"
)

// SearchRequestBody carries the client's control endpoint HPAI.
type SearchRequestBody struct {
	Discovery HPAI
}

// Encode implements the service-body codec pair.
func (b SearchRequestBody) Encode() []byte {
	return b.Discovery.Encode()
}

// DecodeSearchRequest parses a SEARCH_REQUEST body.
func DecodeSearchRequest(buf []byte, src *net.UDPAddr) (SearchRequestBody, error) {
	hp, _, err := DecodeHPAI(buf, src)
	if err != nil {
		return SearchRequestBody{}, fmt.Errorf("SEARCH_REQUEST: %w", err)
	}
	return SearchRequestBody{Discovery: hp}, nil
}

// SearchResponseBody is the gateway's reply to SEARCH_REQUEST.
type SearchResponseBody struct {
	Control  HPAI
	Device   DeviceInfoDIB
	Families SupportedFamiliesDIB
}

// Encode assembles the response body.
func (b SearchResponseBody) Encode() []byte {
	buf := b.Control.Encode()
	buf = append(buf, b.Device.Encode()...)
	buf = append(buf, b.Families.Encode()...)
	return buf
}

// DecodeSearchResponse parses a SEARCH_RESPONSE body (used by test
// helpers and any future client-side tooling).
func DecodeSearchResponse(buf []byte) (SearchResponseBody, error) {
	hp, n, err := DecodeHPAI(buf, nil)
	if err != nil {
		return SearchResponseBody{}, fmt.Errorf("SEARCH_RESPONSE: %w", err)
	}
	dev, n2, err := DecodeDeviceInfoDIB(buf[n:])
	if err != nil {
		return SearchResponseBody{}, fmt.Errorf("SEARCH_RESPONSE: %w", err)
	}
	fam, _, err := DecodeSupportedFamiliesDIB(buf[n+n2:])
	if err != nil {
		return SearchResponseBody{}, fmt.Errorf("SEARCH_RESPONSE: %w", err)
	}
	return SearchResponseBody{Control: hp, Device: dev, Families: fam}, nil
}

// DescriptionRequestBody carries the client's control endpoint HPAI.
type DescriptionRequestBody struct {
	Control HPAI
}

// Encode implements the service-body codec pair.
func (b DescriptionRequestBody) Encode() []byte {
	return b.Control.Encode()
}

// DecodeDescriptionRequest parses a DESCRIPTION_REQUEST body.
func DecodeDescriptionRequest(buf []byte, src *net.UDPAddr) (DescriptionRequestBody, error) {
	hp, _, err := DecodeHPAI(buf, src)
	if err != nil {
		return DescriptionRequestBody{}, fmt.Errorf("DESCRIPTION_REQUEST: %w", err)
	}
	return DescriptionRequestBody{Control: hp}, nil
}

// DescriptionResponseBody is the gateway's reply to
// DESCRIPTION_REQUEST: it carries the same DIBs as SEARCH_RESPONSE,
// without a control HPAI.
type DescriptionResponseBody struct {
	Device   DeviceInfoDIB
	Families SupportedFamiliesDIB
}

// Encode assembles the response body.
func (b DescriptionResponseBody) Encode() []byte {
	buf := b.Device.Encode()
	buf = append(buf, b.Families.Encode()...)
	return buf
}

// DecodeDescriptionResponse parses a DESCRIPTION_RESPONSE body.
func DecodeDescriptionResponse(buf []byte) (DescriptionResponseBody, error) {
	dev, n, err := DecodeDeviceInfoDIB(buf)
	if err != nil {
		return DescriptionResponseBody{}, fmt.Errorf("DESCRIPTION_RESPONSE: %w", err)
	}
	fam, _, err := DecodeSupportedFamiliesDIB(buf[n:])
	if err != nil {
		return DescriptionResponseBody{}, fmt.Errorf("DESCRIPTION_RESPONSE: %w", err)
	}
	return DescriptionResponseBody{Device: dev, Families: fam}, nil
}
