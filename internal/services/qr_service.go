package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// receiveCodeTTL bounds how long a receive code can be claimed.
const receiveCodeTTL = 5 * time.Minute

// errReceiveCodesUnavailable is returned when Redis is not configured.
// Receive codes are single-use and need shared expiring storage.
var errReceiveCodesUnavailable = errors.New("receive codes unavailable")

type QRService struct {
	db      *sql.DB
	redis   *redis.Client
	wallets *WalletService
}

// ReceiveCode is the payload embedded in a wallet's "receive money" QR
// code. The scanner uses it to construct a transfer to the receiver.
type ReceiveCode struct {
	UserID    string `json:"userId"`
	WalletID  string `json:"walletId"`
	Amount    int64  `json:"amount"` // in cents, 0 means payer chooses
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
	Timestamp int64  `json:"timestamp"`
}

func NewQRService(db *sql.DB, redisClient *redis.Client, wallets *WalletService) *QRService {
	return &QRService{
		db:      db,
		redis:   redisClient,
		wallets: wallets,
	}
}

// GenerateReceiveCode creates a single-use receive code for the user's
// wallet and renders it as a QR image. The code expires after
// receiveCodeTTL and is deleted on first claim.
func (s *QRService) GenerateReceiveCode(ctx context.Context, userID string, amount int64) (string, string, error) {
	if s.redis == nil {
		return "", "", errReceiveCodesUnavailable
	}

	wallet, err := s.wallets.GetWalletByUserID(userID)
	if err != nil {
		return "", "", err
	}

	payload := ReceiveCode{
		UserID:    userID,
		WalletID:  wallet.ID,
		Amount:    amount,
		Currency:  wallet.Currency,
		Reference: generateNonce(),
		Timestamp: time.Now().Unix(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("receive:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, receiveCodeTTL).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return code, qrImage, nil
}

// ProcessReceiveCode claims a scanned receive code. The code is
// single-use; a second claim fails as expired.
func (s *QRService) ProcessReceiveCode(ctx context.Context, code string) (*ReceiveCode, error) {
	if s.redis == nil {
		return nil, errReceiveCodesUnavailable
	}

	key := fmt.Sprintf("receive:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired receive code")
	}
	if err != nil {
		return nil, err
	}

	var payload ReceiveCode
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return &payload, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
