package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/go-github/v58/github"
	"github.com/joho/godotenv"
)

// Maintenance probe for the optional GitHub status-reporting credential:
// parses the App private key, mints an App JWT by hand and asks the API
// who the credential belongs to.
func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	privateKeyPath := os.Getenv("GITHUB_PRIVATE_KEY_FILE")
	if privateKeyPath == "" {
		log.Fatal("GITHUB_PRIVATE_KEY_FILE not set")
	}

	appID := os.Getenv("GITHUB_APP_ID")
	if appID == "" {
		log.Fatal("GITHUB_APP_ID not set")
	}

	// Read private key
	privateKeyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		log.Fatalf("Failed to read private key: %v", err)
	}

	fmt.Printf("Private key file size: %d bytes\n", len(privateKeyData))

	// Parse PEM block
	block, _ := pem.Decode(privateKeyData)
	if block == nil {
		log.Fatal("Failed to parse PEM block")
	}

	fmt.Printf("PEM Type: %s\n", block.Type)

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS8
		keyInterface, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			log.Fatalf("Failed to parse private key:\nPKCS1 error: %v\nPKCS8 error: %v", err, err2)
		}
		var ok bool
		key, ok = keyInterface.(*rsa.PrivateKey)
		if !ok {
			log.Fatal("Private key is not RSA")
		}
		fmt.Println("Successfully parsed as PKCS8")
	} else {
		fmt.Println("Successfully parsed as PKCS1")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    appID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, err := token.SignedString(key)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Println("Successfully created App JWT")

	// Ask the API who this credential is
	client := github.NewClient(&http.Client{Transport: &bearerTransport{token: tokenString}})
	app, _, err := client.Apps.Get(context.Background(), "")
	if err != nil {
		log.Fatalf("App lookup failed: %v", err)
	}

	fmt.Printf("Authenticated as GitHub App %q (id %d, owner %s)\n",
		app.GetName(), app.GetID(), app.GetOwner().GetLogin())
}

type bearerTransport struct {
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(req)
}
