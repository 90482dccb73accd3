package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"
	_ "time/tzdata"

	"wbsync/internal/model"
	"wbsync/internal/wbtime"
)

func main() {
	var count int
	var outputFile string
	flag.IntVar(&count, "count", 100, "number of orders to generate")
	flag.StringVar(&outputFile, "output", "wb.orders.jsonl", "output file")
	flag.Parse()

	if err := generateOrders(count, outputFile); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
}

func generateOrders(count int, outputFile string) error {
	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	warehouses := []string{"Коледино", "Электросталь", "Казань"}
	brands := []string{"Acme", "Nordline", "Vostok"}
	subjects := []string{"Футболки", "Носки", "Куртки"}
	sizes := []string{"S", "M", "L", "XL"}

	base := time.Now().UTC().Add(-24 * time.Hour)
	rand.Seed(time.Now().UnixNano())

	enc := json.NewEncoder(file)
	for i := 0; i < count; i++ {
		ts := base.Add(time.Duration(i*10) * time.Second)
		price := float64(500 + rand.Intn(4500))
		disc := rand.Intn(30)
		cancelled := rand.Intn(20) == 0
		cancel := wbtime.ZeroCancelDate
		if cancelled {
			cancel = wbtime.FormatMSK(ts.Add(time.Hour))
		}
		order := model.Order{
			Date:            wbtime.FormatMSK(ts),
			LastChangeDate:  wbtime.FormatMSK(ts.Add(5 * time.Minute)),
			WarehouseName:   warehouses[rand.Intn(len(warehouses))],
			WarehouseType:   "Склад WB",
			CountryName:     "Россия",
			OblastOkrugName: "Центральный федеральный округ",
			RegionName:      "Московская",
			SupplierArticle: fmt.Sprintf("ART-%04d", rand.Intn(10000)),
			NmID:            int64(100000000 + rand.Intn(90000000)),
			Barcode:         fmt.Sprintf("20000%08d", rand.Intn(100000000)),
			Category:        "Одежда",
			Subject:         subjects[rand.Intn(len(subjects))],
			Brand:           brands[rand.Intn(len(brands))],
			TechSize:        sizes[rand.Intn(len(sizes))],
			IncomeID:        int64(10000000 + rand.Intn(1000000)),
			IsRealization:   true,
			TotalPrice:      price,
			DiscountPercent: disc,
			SPP:             float64(rand.Intn(15)),
			FinishedPrice:   price * float64(100-disc) / 100,
			PriceWithDisc:   price * float64(100-disc) / 100,
			IsCancel:        cancelled,
			CancelDate:      cancel,
			GNumber:         fmt.Sprintf("%018d", rand.Int63n(1e17)),
			SRID:            fmt.Sprintf("%d.%d.%d", rand.Int63n(1e10), rand.Int63n(1e10), i+1),
		}
		if err := enc.Encode(&order); err != nil {
			return fmt.Errorf("encode order %d: %w", i+1, err)
		}
	}

	log.Printf("generated %d orders to %s", count, outputFile)
	return nil
}
