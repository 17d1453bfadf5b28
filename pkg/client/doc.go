// Package client is the custodia Go SDK.
//
// It talks to a custodiad server: opening custody cases, anchoring records,
// validating chains, and producing court-facing proofs — all in one
// coherent API.
//
// # Opening a case and anchoring a record
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	summary, err := c.OpenCase(ctx, client.OpenCaseRequest{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	doc := record.NewDocument("demanda", "Demanda inicial", contents)
//	payload, _ := doc.JSON()
//	entry, err := c.AppendEntry(ctx, summary.CaseID.String(), payload)
//
// Case and entry ids are prime numbers of arbitrary size, so the SDK hands
// them back as json.Number; call .String() to build URLs or display them.
//
// # Verifying integrity
//
// Validation never errors on a tampered chain — damage is data:
//
//	report, err := c.ValidateCase(ctx, caseID)
//	if err != nil {
//	    log.Fatal(err) // transport or not-found, not tampering
//	}
//	if !report.Valid {
//	    for _, v := range report.Violations {
//	        fmt.Printf("position %d: %s (%s)\n", v.Position, v.Code, v.Detail)
//	    }
//	}
//
// # Archival and transfer
//
// ExportCase returns the interchange document as raw JSON and ImportCase
// sends it back untouched, so a chain survives the round trip byte for
// byte and still validates on the other side:
//
//	docJSON, _ := c.ExportCase(ctx, caseID)
//	// ... archive docJSON, move it to another custodiad ...
//	summary, err := other.ImportCase(ctx, docJSON)
//
// # Court-facing proof
//
//	proof, err := c.CustodyProof(ctx, caseID)
//	fmt.Println(proof.Signature) // sha256 over the concatenated digests
//
// Appends block while the server mines, so set a generous timeout when the
// server runs a high difficulty:
//
//	c, _ := client.New(base, client.WithTimeout(2*time.Minute))
package client
