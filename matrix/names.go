/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package matrix

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed names.yaml
var namesYAML []byte

type codeName struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type domainGroup struct {
	Name       string   `yaml:"name"`
	Subdomains []string `yaml:"subdomains"`
}

type nameTables struct {
	Commodities []codeName    `yaml:"commodities"`
	Subdomains  []codeName    `yaml:"subdomains"`
	Levels      []codeName    `yaml:"levels"`
	Domains     []domainGroup `yaml:"domains"`
}

var (
	commodityOrder []string
	subdomainOrder []string
	domainGroups   []domainGroup

	commodityNames map[string]string
	subdomainNames map[string]string
	levelNames     map[string]string
)

func init() {
	var t nameTables
	if err := yaml.Unmarshal(namesYAML, &t); err != nil {
		panic(fmt.Sprintf("matrix: parsing embedded names.yaml: %v", err))
	}

	commodityNames = make(map[string]string, len(t.Commodities))
	for _, cn := range t.Commodities {
		commodityOrder = append(commodityOrder, cn.Code)
		commodityNames[cn.Code] = cn.Name
	}
	subdomainNames = make(map[string]string, len(t.Subdomains))
	for _, cn := range t.Subdomains {
		subdomainOrder = append(subdomainOrder, cn.Code)
		subdomainNames[cn.Code] = cn.Name
	}
	levelNames = make(map[string]string, len(t.Levels))
	for _, cn := range t.Levels {
		levelNames[cn.Code] = cn.Name
	}
	domainGroups = t.Domains
}

// Commodities returns the known commodity codes in canonical order.
func Commodities() []string {
	return append([]string(nil), commodityOrder...)
}

// Subdomains returns the known subdomain codes in canonical order.
func Subdomains() []string {
	return append([]string(nil), subdomainOrder...)
}

// CommodityDisplay returns the human-readable name for a commodity code.
func CommodityDisplay(code string) string {
	if name, ok := commodityNames[code]; ok {
		return name
	}
	return code
}

// SubdomainDisplay returns the human-readable name for a subdomain code.
func SubdomainDisplay(code string) string {
	if name, ok := subdomainNames[code]; ok {
		return name
	}
	return code
}

// DomainGroup is a named group of subdomains used for report sectioning.
type DomainGroup struct {
	Name       string
	Subdomains []string
}

// DomainGroups returns the subdomain groupings in report order.
func DomainGroups() []DomainGroup {
	out := make([]DomainGroup, 0, len(domainGroups))
	for _, g := range domainGroups {
		out = append(out, DomainGroup{
			Name:       g.Name,
			Subdomains: append([]string(nil), g.Subdomains...),
		})
	}
	return out
}
