package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"

	"github.com/laurelhq/laurel/internal/auth"
)

// handleStatementExport renders the account statement as an XLSX workbook.
func (s *Server) handleStatementExport(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if _, ok := s.authorizeAccount(w, r, auth.ActionViewStatement, accountID); !ok {
		return
	}

	limit := queryInt(r, "limit", 500)
	txs, err := s.ledger.Statement(r.Context(), accountID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	f := excelize.NewFile()
	sheetName := "Statement"
	index, _ := f.NewSheet(sheetName)
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headers := []string{"Transaction ID", "Type", "Status", "Amount", "Counter Account", "Note", "Created By", "Created At"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}

	rowIndex := 2
	for _, tx := range txs {
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", rowIndex), tx.ID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", rowIndex), string(tx.Type))
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", rowIndex), string(tx.Status))
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", rowIndex), tx.Amount)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", rowIndex), tx.CounterAccountID)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", rowIndex), tx.ReferenceNote)
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", rowIndex), tx.CreatedBy)
		f.SetCellValue(sheetName, fmt.Sprintf("H%d", rowIndex), tx.CreatedAt.Format("2006-01-02 15:04:05"))
		rowIndex++
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="statement-%s.xlsx"`, accountID))
	if err := f.Write(w); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render export")
	}
}
