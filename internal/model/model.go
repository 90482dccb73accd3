package model

import (
	"fmt"
	"time"

	"wbsync/internal/wbtime"
)

// Order is a single record of the WB supplier orders feed, as returned by
// GET /api/v1/supplier/orders. Temporal fields are raw strings in Moscow
// wall-clock time; LastChangeDate doubles as the pagination key and must
// be echoed back to WB verbatim.
type Order struct {
	Date            string  `json:"date"`
	LastChangeDate  string  `json:"lastChangeDate"`
	WarehouseName   string  `json:"warehouseName"`
	WarehouseType   string  `json:"warehouseType"`
	CountryName     string  `json:"countryName"`
	OblastOkrugName string  `json:"oblastOkrugName"`
	RegionName      string  `json:"regionName"`
	SupplierArticle string  `json:"supplierArticle"`
	NmID            int64   `json:"nmId"`
	Barcode         string  `json:"barcode"`
	Category        string  `json:"category"`
	Subject         string  `json:"subject"`
	Brand           string  `json:"brand"`
	TechSize        string  `json:"techSize"`
	IncomeID        int64   `json:"incomeID"`
	IsSupply        bool    `json:"isSupply"`
	IsRealization   bool    `json:"isRealization"`
	TotalPrice      float64 `json:"totalPrice"`
	DiscountPercent int     `json:"discountPercent"`
	SPP             float64 `json:"spp"`
	FinishedPrice   float64 `json:"finishedPrice"`
	PriceWithDisc   float64 `json:"priceWithDisc"`
	IsCancel        bool    `json:"isCancel"`
	CancelDate      string  `json:"cancelDate"`
	Sticker         string  `json:"sticker"`
	GNumber         string  `json:"gNumber"`
	SRID            string  `json:"srid"`
}

// Row is the wb_orders sink shape. srid is the natural key; the upsert
// keeps exactly one row per srid. All temporal fields are absolute time.
type Row struct {
	Date            time.Time  `json:"date"`
	LastChangeDate  time.Time  `json:"last_change_date"`
	WarehouseName   string     `json:"warehouse_name"`
	WarehouseType   string     `json:"warehouse_type"`
	CountryName     string     `json:"country_name"`
	OblastOkrugName string     `json:"oblast_okrug_name"`
	RegionName      string     `json:"region_name"`
	SupplierArticle string     `json:"supplier_article"`
	NmID            int64      `json:"nm_id"`
	Barcode         string     `json:"barcode"`
	Category        string     `json:"category"`
	Subject         string     `json:"subject"`
	Brand           string     `json:"brand"`
	TechSize        string     `json:"tech_size"`
	IncomeID        int64      `json:"income_id"`
	IsSupply        bool       `json:"is_supply"`
	IsRealization   bool       `json:"is_realization"`
	TotalPrice      float64    `json:"total_price"`
	DiscountPercent int        `json:"discount_percent"`
	SPP             float64    `json:"spp"`
	FinishedPrice   float64    `json:"finished_price"`
	PriceWithDisc   float64    `json:"price_with_disc"`
	IsCancel        bool       `json:"is_cancel"`
	CancelDate      *time.Time `json:"cancel_date"`
	Sticker         string     `json:"sticker"`
	GNumber         string     `json:"g_number"`
	SRID            string     `json:"srid"`
}

// Transform maps one upstream record to one sink row. Pure: no filtering,
// no aggregation, no side effects. Temporal fields go through wbtime; the
// zero-date cancel sentinel becomes a nil CancelDate.
func Transform(orders []Order) ([]Row, error) {
	rows := make([]Row, 0, len(orders))
	for i, o := range orders {
		date, err := wbtime.ToUTC(o.Date)
		if err != nil {
			return nil, fmt.Errorf("order %d (srid=%s) date: %w", i, o.SRID, err)
		}
		lcd, err := wbtime.ToUTC(o.LastChangeDate)
		if err != nil {
			return nil, fmt.Errorf("order %d (srid=%s) lastChangeDate: %w", i, o.SRID, err)
		}
		cancel, err := wbtime.CancelUTC(o.CancelDate)
		if err != nil {
			return nil, fmt.Errorf("order %d (srid=%s) cancelDate: %w", i, o.SRID, err)
		}
		rows = append(rows, Row{
			Date:            date,
			LastChangeDate:  lcd,
			WarehouseName:   o.WarehouseName,
			WarehouseType:   o.WarehouseType,
			CountryName:     o.CountryName,
			OblastOkrugName: o.OblastOkrugName,
			RegionName:      o.RegionName,
			SupplierArticle: o.SupplierArticle,
			NmID:            o.NmID,
			Barcode:         o.Barcode,
			Category:        o.Category,
			Subject:         o.Subject,
			Brand:           o.Brand,
			TechSize:        o.TechSize,
			IncomeID:        o.IncomeID,
			IsSupply:        o.IsSupply,
			IsRealization:   o.IsRealization,
			TotalPrice:      o.TotalPrice,
			DiscountPercent: o.DiscountPercent,
			SPP:             o.SPP,
			FinishedPrice:   o.FinishedPrice,
			PriceWithDisc:   o.PriceWithDisc,
			IsCancel:        o.IsCancel,
			CancelDate:      cancel,
			Sticker:         o.Sticker,
			GNumber:         o.GNumber,
			SRID:            o.SRID,
		})
	}
	return rows, nil
}
