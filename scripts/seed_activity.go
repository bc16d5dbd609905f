// Generates synthetic activity traffic against a running server. Useful for
// exercising the scoring pipeline locally:
//
//	go run scripts/seed_activity.go -addr http://localhost:8080 -events 200
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"
)

var (
	userIDs = []string{"jsmith", "mchen", "apatel", "rlee", "kwong"}
	roles   = []string{"Developer", "Finance", "HR", "Manager", "Sales"}
	paths   = []string{
		"/repos/service/main.go",
		"/finance/q3-forecast.xlsx",
		"/hr/salaries-2026.csv",
		"/shared/press-release.docx",
		"/exports/customer-list.csv",
	}
	recipients = []string{"team@corp.example.com", "contact@example.org", "personal@webmail.example"}
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Server base URL")
	events := flag.Int("events", 100, "Number of events to submit")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	for i, userID := range userIDs {
		user := map[string]string{
			"user_id": userID,
			"name":    userID,
			"role":    roles[i%len(roles)],
		}
		if err := post(client, *addr+"/api/v1/users", user); err != nil {
			fmt.Fprintf(os.Stderr, "registering %s: %v\n", userID, err)
			os.Exit(1)
		}
	}

	for i := 0; i < *events; i++ {
		ev := randomEvent()
		if err := post(client, *addr+"/api/v1/activities", ev); err != nil {
			fmt.Fprintf(os.Stderr, "submitting event %d: %v\n", i, err)
			os.Exit(1)
		}
		if i%25 == 0 {
			fmt.Printf("submitted %d events\n", i)
		}
	}

	fmt.Printf("done: %d events submitted\n", *events)
}

func randomEvent() map[string]interface{} {
	userID := userIDs[rand.Intn(len(userIDs))]
	ts := time.Now().Add(-time.Duration(rand.Intn(72)) * time.Hour)

	switch rand.Intn(4) {
	case 0:
		return map[string]interface{}{
			"user_id":       userID,
			"timestamp":     ts,
			"activity_type": "logon",
			"details": map[string]interface{}{
				"geo_anomaly": rand.Intn(10) / 9, // mostly 0
				"ip_address":  fmt.Sprintf("10.1.%d.%d", rand.Intn(255), rand.Intn(255)),
			},
		}
	case 1:
		return map[string]interface{}{
			"user_id":       userID,
			"timestamp":     ts,
			"activity_type": "logoff",
			"details":       map[string]interface{}{},
		}
	case 2:
		return map[string]interface{}{
			"user_id":       userID,
			"timestamp":     ts,
			"activity_type": "file_access",
			"details": map[string]interface{}{
				"file_path": paths[rand.Intn(len(paths))],
				"sensitive": rand.Intn(5) == 0,
				"size_mb":   rand.Float64() * 200,
			},
		}
	default:
		return map[string]interface{}{
			"user_id":       userID,
			"timestamp":     ts,
			"activity_type": "email",
			"details": map[string]interface{}{
				"recipient":           recipients[rand.Intn(len(recipients))],
				"external":            rand.Intn(3) == 0,
				"attachment_size_mb":  rand.Float64() * 15,
				"suspicious_keywords": rand.Intn(6) / 5, // mostly 0
			},
		}
	}
}

func post(client *http.Client, url string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
