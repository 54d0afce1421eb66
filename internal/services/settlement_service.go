package services

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/shopspring/decimal"
	"github.com/venturebridge/backend/internal/models"
)

const settlementQueueKey = "settlement_queue"

// SettlementInstruction is what Withdraw queues for the worker: the
// committed ledger entry plus the destination bank details.
type SettlementInstruction struct {
	Transaction   models.Transaction `json:"transaction"`
	BankCode      string             `json:"bankCode"`
	AccountNumber string             `json:"accountNumber"`
}

// SettlementService drains queued withdrawals and hands them to the
// bank settlement rail as pacs.008 credit transfers. It runs strictly
// after ledger commit; settlement failures are logged and retried by
// re-queueing, never by touching the ledger.
type SettlementService struct {
	redis *redis.Client
}

func NewSettlementService(redisClient *redis.Client) *SettlementService {
	return &SettlementService{redis: redisClient}
}

// Run drains the settlement queue until ctx is cancelled. Safe to call
// with no Redis configured; it simply returns.
func (s *SettlementService) Run(ctx context.Context) {
	if s.redis == nil {
		log.Println("[SETTLEMENT] Redis not configured, settlement worker disabled")
		return
	}

	log.Println("[SETTLEMENT] Settlement worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("[SETTLEMENT] Settlement worker stopped")
			return
		default:
		}

		res, err := s.redis.BLPop(ctx, 5*time.Second, settlementQueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Println("[SETTLEMENT] Settlement worker stopped")
				return
			}
			log.Printf("[SETTLEMENT] Queue read failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		var instruction SettlementInstruction
		if err := json.Unmarshal([]byte(res[1]), &instruction); err != nil {
			log.Printf("[SETTLEMENT] Discarding malformed instruction: %v", err)
			continue
		}

		if err := s.settle(&instruction); err != nil {
			log.Printf("[SETTLEMENT] Settlement failed for %s, re-queueing: %v", instruction.Transaction.TransactionID, err)
			s.redis.RPush(context.Background(), settlementQueueKey, res[1])
			time.Sleep(time.Second)
		}
	}
}

func (s *SettlementService) settle(instruction *SettlementInstruction) error {
	doc, err := s.CreatePacs008(instruction)
	if err != nil {
		return err
	}

	if err := s.SendToSettlement(doc); err != nil {
		return err
	}

	log.Printf("[SETTLEMENT] Withdrawal %s sent to settlement", instruction.Transaction.TransactionID)
	return nil
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer for a
// withdrawal. The ledger records withdrawals as negative amounts; the
// interbank leg settles the positive value.
func (s *SettlementService) CreatePacs008(instruction *SettlementInstruction) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	txn := instruction.Transaction
	if txn.Type != models.TypeWithdraw {
		return nil, fmt.Errorf("cannot settle transaction of type %s", txn.Type)
	}

	amount := txn.Amount
	if amount < 0 {
		amount = -amount
	}
	value, _ := decimal.NewFromInt(amount).Div(decimal.NewFromInt(100)).Float64()

	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(txn.Currency),
				Value: value,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(txn.TransactionID)}[0],
					EndToEndId: common.Max35Text(txn.Metadata.Reference),
					TxId:       &[]common.Max35Text{common.Max35Text(txn.TransactionID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(txn.Currency),
					Value: value,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("VENTBRDG")}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(txn.WalletID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(instruction.BankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(instruction.AccountNumber)}[0],
				},
			},
		},
	}

	return doc, nil
}

// SendToSettlement marshals the document and hands it to the
// settlement rail.
func (s *SettlementService) SendToSettlement(doc any) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}

	// TODO: replace stdout handoff with the clearing partner's SFTP drop
	log.Printf("[SETTLEMENT] Sending to settlement: %s", string(xmlData))
	return nil
}

// ConvertToXML converts an ISO 20022 document to an XML string
func (s *SettlementService) ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
