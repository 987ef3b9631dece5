package scan

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Port is an open port on a discovered device.
type Port struct {
	Port     string `json:"port"`
	Protocol string `json:"protocol"`
	Service  string `json:"service"`
}

// Device is a host that was up during a quick scan.
type Device struct {
	IP    string `json:"ip"`
	Ports []Port `json:"ports"`
}

type nmapRun struct {
	Hosts []struct {
		Status *struct {
			State string `xml:"state,attr"`
		} `xml:"status"`
		Addresses []struct {
			Addr string `xml:"addr,attr"`
		} `xml:"address"`
		Ports []struct {
			PortID   string `xml:"portid,attr"`
			Protocol string `xml:"protocol,attr"`
			State    *struct {
				State string `xml:"state,attr"`
			} `xml:"state"`
			Service *struct {
				Name string `xml:"name,attr"`
			} `xml:"service"`
		} `xml:"ports>port"`
	} `xml:"host"`
}

// ParseNmap reads nmap XML output. Hosts whose status is present and not
// "up" are skipped; only open ports are reported.
func ParseNmap(r io.Reader) ([]Device, error) {
	var run nmapRun
	if err := xml.NewDecoder(r).Decode(&run); err != nil {
		return nil, fmt.Errorf("parse nmap xml: %w", err)
	}

	devices := make([]Device, 0, len(run.Hosts))
	for _, h := range run.Hosts {
		if h.Status != nil && h.Status.State != "up" {
			continue
		}
		ip := "unknown"
		if len(h.Addresses) > 0 {
			ip = h.Addresses[0].Addr
		}
		ports := make([]Port, 0, len(h.Ports))
		for _, p := range h.Ports {
			if p.State == nil || p.State.State != "open" {
				continue
			}
			svc := ""
			if p.Service != nil {
				svc = p.Service.Name
			}
			ports = append(ports, Port{Port: p.PortID, Protocol: p.Protocol, Service: svc})
		}
		devices = append(devices, Device{IP: ip, Ports: ports})
	}
	return devices, nil
}

// Summary is what an artifact says about the network.
type Summary struct {
	// Devices is []Device for nmap XML, or the raw JSON of a wifi scan.
	Devices     any
	DeviceCount int
	PortsOpen   int
}

// Summarize reads an artifact by extension. Counts are never negative.
func Summarize(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		devices, err := ParseNmap(f)
		if err != nil {
			return Summary{}, err
		}
		ports := 0
		for _, d := range devices {
			ports += len(d.Ports)
		}
		return Summary{Devices: devices, DeviceCount: len(devices), PortsOpen: ports}, nil
	case ".json":
		var raw json.RawMessage
		if err := json.NewDecoder(f).Decode(&raw); err != nil {
			return Summary{}, fmt.Errorf("parse wifi json: %w", err)
		}
		var list []json.RawMessage
		count := 0
		if json.Unmarshal(raw, &list) == nil {
			count = len(list)
		}
		return Summary{Devices: raw, DeviceCount: count}, nil
	default:
		return Summary{Devices: []Device{}}, nil
	}
}
