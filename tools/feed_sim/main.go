// feed_sim drives a running dispatch service with synthetic field traffic:
// HMAC-signed hospital capacity reports over HTTP, and ambulance location,
// vitals and congestion frames over MQTT when a broker is configured.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/routing"
)

type config struct {
	baseURL      string
	ingestSecret string
	mqttBroker   string
	hospitals    string
	units        string
	emergencyID  string
	degrade      bool
	interval     time.Duration
	duration     time.Duration
	centerLat    float64
	centerLon    float64
	seed         int64
}

type hospitalState struct {
	id   string
	beds int
	load float64
}

type unitState struct {
	id  string
	lat float64
	lon float64
}

type vitalsState struct {
	heartRate float64
	systolic  float64
	diastolic float64
	spo2      float64
}

func main() {
	cfg := parseConfig()
	if cfg.baseURL == "" && cfg.mqttBroker == "" {
		log.Fatal("base-url or mqtt-broker is required")
	}

	rng := rand.New(rand.NewSource(cfg.seed))

	hospitals := buildHospitals(cfg.hospitals, rng)
	units := buildUnits(cfg.units, cfg.centerLat, cfg.centerLon, rng)

	var client mqtt.Client
	if cfg.mqttBroker != "" {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(cfg.mqttBroker)
		opts.SetClientID("feed-sim")
		opts.SetAutoReconnect(true)
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Fatalf("mqtt connect: %v", token.Error())
		}
		defer client.Disconnect(250)
		log.Printf("publishing unit frames to %s", cfg.mqttBroker)
	} else if len(units) > 0 {
		log.Printf("no mqtt broker configured, unit frames disabled")
	}

	vitals := vitalsState{heartRate: 88, systolic: 124, diastolic: 82, spo2: 97}

	log.Printf("feed sim: hospitals=%d units=%d interval=%s", len(hospitals), len(units), cfg.interval)

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()
	deadline := time.Time{}
	if cfg.duration > 0 {
		deadline = time.Now().Add(cfg.duration)
	}

	for tick := range ticker.C {
		if !deadline.IsZero() && tick.After(deadline) {
			log.Printf("feed sim completed")
			return
		}
		if cfg.baseURL != "" {
			stepHospitals(hospitals, rng)
			if err := postCapacity(cfg.baseURL, cfg.ingestSecret, hospitals); err != nil {
				log.Printf("capacity post: %v", err)
			}
		}
		if client != nil {
			stepUnits(units, rng)
			publishUnits(client, units)
			if cfg.emergencyID != "" {
				stepVitals(&vitals, cfg.degrade, rng)
				publishVitals(client, units, cfg.emergencyID, vitals)
			}
			if rng.Float64() < 0.1 {
				publishCongestion(client, cfg.centerLat, cfg.centerLon, rng)
			}
		}
	}
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", "http://localhost:8080"), "dispatch service base URL")
	flag.StringVar(&cfg.ingestSecret, "ingest-secret", envOrDefault("INGEST_HMAC_SECRET", ""), "HMAC secret for capacity reports")
	flag.StringVar(&cfg.mqttBroker, "mqtt-broker", envOrDefault("MQTT_BROKER", ""), "MQTT broker URL for unit frames")
	flag.StringVar(&cfg.hospitals, "hospitals", envOrDefault("SIM_HOSPITALS", "H001,H002,H003,H004,H005"), "comma-separated hospital ids")
	flag.StringVar(&cfg.units, "units", envOrDefault("SIM_UNITS", "AMB-001,AMB-002,AMB-003"), "comma-separated ambulance ids")
	flag.StringVar(&cfg.emergencyID, "emergency-id", envOrDefault("SIM_EMERGENCY_ID", ""), "emergency to stream vitals for")
	flag.BoolVar(&cfg.degrade, "degrade", envOrBool("SIM_DEGRADE", false), "trend the streamed vitals toward critical")
	flag.DurationVar(&cfg.interval, "interval", envOrDuration("SIM_INTERVAL", 5*time.Second), "tick interval")
	flag.DurationVar(&cfg.duration, "duration", envOrDuration("SIM_DURATION", 0), "total run time (0 = run until stopped)")
	flag.Float64Var(&cfg.centerLat, "center-lat", envOrFloat("SIM_CENTER_LAT", 28.6139), "simulation center latitude")
	flag.Float64Var(&cfg.centerLon, "center-lon", envOrFloat("SIM_CENTER_LON", 77.2090), "simulation center longitude")
	flag.Int64Var(&cfg.seed, "seed", envOrInt64("SIM_SEED", time.Now().UnixNano()), "random seed")
	flag.Parse()
	return cfg
}

func buildHospitals(list string, rng *rand.Rand) []*hospitalState {
	out := []*hospitalState{}
	for _, id := range strings.Split(list, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, &hospitalState{id: id, beds: 5 + rng.Intn(20), load: 0.3 + rng.Float64()*0.4})
	}
	return out
}

func buildUnits(list string, lat, lon float64, rng *rand.Rand) []*unitState {
	out := []*unitState{}
	for _, id := range strings.Split(list, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out = append(out, &unitState{
			id:  id,
			lat: lat + (rng.Float64()-0.5)*0.05,
			lon: lon + (rng.Float64()-0.5)*0.05,
		})
	}
	return out
}

func stepHospitals(hospitals []*hospitalState, rng *rand.Rand) {
	for _, h := range hospitals {
		h.beds += rng.Intn(3) - 1
		if h.beds < 0 {
			h.beds = 0
		}
		if h.beds > 40 {
			h.beds = 40
		}
		h.load += (rng.Float64() - 0.5) * 0.1
		if h.load < 0 {
			h.load = 0
		}
		if h.load > 1 {
			h.load = 1
		}
	}
}

func postCapacity(baseURL, secret string, hospitals []*hospitalState) error {
	type report struct {
		HospitalID    string  `json:"hospital_id"`
		BedsAvailable int     `json:"beds_available"`
		ERLoad        float64 `json:"er_load"`
		TS            int64   `json:"ts"`
	}
	now := time.Now().Unix()
	reports := make([]report, 0, len(hospitals))
	for _, h := range hospitals {
		reports = append(reports, report{HospitalID: h.id, BedsAvailable: h.beds, ERLoad: round2(h.load), TS: now})
	}
	body, err := json.Marshal(map[string]any{"reports": reports})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+"/ingest/hospital/status", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	timestamp := strconv.FormatInt(now, 10)
	req.Header.Set("X-Ingest-Timestamp", timestamp)
	req.Header.Set("X-Ingest-Signature", signIngest(secret, timestamp, body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("capacity post status %d", resp.StatusCode)
	}
	return nil
}

func signIngest(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func stepUnits(units []*unitState, rng *rand.Rand) {
	for _, u := range units {
		u.lat += (rng.Float64() - 0.5) * 0.002
		u.lon += (rng.Float64() - 0.5) * 0.002
	}
}

func publishUnits(client mqtt.Client, units []*unitState) {
	for _, u := range units {
		payload, _ := json.Marshal(map[string]any{
			"lat": u.lat,
			"lon": u.lon,
			"at":  time.Now().UTC().Format(time.RFC3339),
		})
		token := client.Publish("ambulance/"+u.id+"/location", 1, false, payload)
		if token.Wait() && token.Error() != nil {
			log.Printf("publish location %s: %v", u.id, token.Error())
		}
	}
}

func stepVitals(v *vitalsState, degrade bool, rng *rand.Rand) {
	if degrade {
		v.heartRate += rng.Float64() * 3
		v.spo2 -= rng.Float64() * 0.8
		v.systolic -= rng.Float64() * 1.5
	} else {
		v.heartRate += (rng.Float64() - 0.5) * 4
		v.spo2 += (rng.Float64() - 0.5) * 0.6
		v.systolic += (rng.Float64() - 0.5) * 3
	}
	v.diastolic = v.systolic - 40
	if v.heartRate > 190 {
		v.heartRate = 190
	}
	if v.spo2 > 100 {
		v.spo2 = 100
	}
	if v.spo2 < 70 {
		v.spo2 = 70
	}
	if v.systolic < 70 {
		v.systolic = 70
	}
}

func publishVitals(client mqtt.Client, units []*unitState, emergencyID string, v vitalsState) {
	if len(units) == 0 {
		return
	}
	unit := units[0]
	payload, _ := json.Marshal(map[string]any{
		"emergency_id": emergencyID,
		"vitals": map[string]any{
			"heart_rate":       round2(v.heartRate),
			"systolic_bp":      round2(v.systolic),
			"diastolic_bp":     round2(v.diastolic),
			"spo2":             round2(v.spo2),
			"respiration_rate": 16,
			"consciousness":    "alert",
			"taken_at":         time.Now().UTC().Format(time.RFC3339),
		},
	})
	token := client.Publish("ambulance/"+unit.id+"/vitals", 1, false, payload)
	if token.Wait() && token.Error() != nil {
		log.Printf("publish vitals: %v", token.Error())
	}
}

func publishCongestion(client mqtt.Client, lat, lon float64, rng *rand.Rand) {
	point := geo.Point{
		Lat: lat + (rng.Float64()-0.5)*0.02,
		Lon: lon + (rng.Float64()-0.5)*0.02,
	}
	segment := routing.SegmentID(point, routing.DefaultParams().SegmentSizeMeters)
	payload, _ := json.Marshal(map[string]any{
		"segment_id": segment,
		"factor":     round2(1.0 + rng.Float64()*2.0),
	})
	token := client.Publish("traffic/updates", 1, false, payload)
	if token.Wait() && token.Error() != nil {
		log.Printf("publish traffic: %v", token.Error())
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
