package services

import (
	"encoding/json"
	"net/http"
)

// Bank is a withdrawal destination supported by the settlement rail.
type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var supportedBanks = []Bank{
	{Code: "021", Name: "Chase"},
	{Code: "026", Name: "Bank of America"},
	{Code: "031", Name: "Wells Fargo"},
	{Code: "036", Name: "Citibank"},
	{Code: "041", Name: "U.S. Bank"},
	{Code: "043", Name: "PNC Bank"},
	{Code: "054", Name: "Capital One"},
	{Code: "061", Name: "Truist"},
	{Code: "067", Name: "TD Bank"},
	{Code: "071", Name: "Fifth Third Bank"},
	{Code: "081", Name: "Ally Bank"},
	{Code: "091", Name: "Charles Schwab Bank"},
}

type BankService struct {
	byCode map[string]Bank
}

func NewBankService() *BankService {
	byCode := make(map[string]Bank, len(supportedBanks))
	for _, bank := range supportedBanks {
		byCode[bank.Code] = bank
	}
	return &BankService{byCode: byCode}
}

// IsSupported reports whether a bank code can receive withdrawals.
func (bs *BankService) IsSupported(code string) bool {
	_, ok := bs.byCode[code]
	return ok
}

// GetAllBanks lists withdrawal destination banks
// @Summary List supported banks
// @Description List banks available as withdrawal destinations
// @Tags banks
// @Produce json
// @Success 200 {array} Bank
// @Router /banks [get]
func (bs *BankService) GetAllBanks(w http.ResponseWriter, r *http.Request) {
	banks := make([]Bank, len(supportedBanks))
	copy(banks, supportedBanks)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	json.NewEncoder(w).Encode(banks)
}
