// Package csvimport reads package manifests exported as CSV.
package csvimport

import (
    "encoding/csv"
    "errors"
    "fmt"
    "io"
    "strconv"
    "strings"

    "tourplan/internal/integrations"
    "tourplan/internal/model"
)

var required = []string{"reference", "recipient", "lat", "lng", "weight_kg"}

// Source parses CSV with header reference,recipient,lat,lng,weight_kg and an
// optional zone_id column. Column order is free; names are case-insensitive.
type Source struct{}

func (Source) Name() string { return "csv" }

func (Source) Packages(r io.Reader) ([]model.PackageInput, error) {
    cr := csv.NewReader(r)
    cr.TrimLeadingSpace = true
    cr.FieldsPerRecord = -1
    header, err := cr.Read()
    if errors.Is(err, io.EOF) { return nil, errors.New("empty csv") }
    if err != nil { return nil, &integrations.RowError{Row: 1, Err: err} }
    col := map[string]int{}
    for i, h := range header {
        col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))] = i
    }
    for _, name := range required {
        if _, ok := col[name]; !ok { return nil, &integrations.RowError{Row: 1, Column: name, Err: errors.New("missing column")} }
    }
    zoneCol, hasZone := col["zone_id"]

    out := []model.PackageInput{}
    for row := 2; ; row++ {
        rec, err := cr.Read()
        if errors.Is(err, io.EOF) { break }
        if err != nil { return nil, &integrations.RowError{Row: row, Err: err} }
        if blank(rec) { continue }
        field := func(name string) string {
            i := col[name]
            if i >= len(rec) { return "" }
            return strings.TrimSpace(rec[i])
        }
        num := func(name string) (float64, error) {
            v, err := strconv.ParseFloat(field(name), 64)
            if err != nil { return 0, &integrations.RowError{Row: row, Column: name, Err: fmt.Errorf("not a number: %q", field(name))} }
            return v, nil
        }
        lat, err := num("lat")
        if err != nil { return nil, err }
        lng, err := num("lng")
        if err != nil { return nil, err }
        w, err := num("weight_kg")
        if err != nil { return nil, err }
        p := model.PackageInput{Reference: field("reference"), Recipient: field("recipient"), Location: &model.GeoPoint{Lat: lat, Lng: lng}, WeightKg: w}
        if hasZone && zoneCol < len(rec) { p.ZoneID = strings.TrimSpace(rec[zoneCol]) }
        out = append(out, p)
    }
    return out, nil
}

func blank(rec []string) bool {
    for _, f := range rec {
        if strings.TrimSpace(f) != "" { return false }
    }
    return true
}
