package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/models"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// End-to-end custody flow against real MySQL + Redis containers:
// batch creation, shipment accept/reject, chain transfers, sale, recall,
// provenance reconstruction, and the conflict paths in between.
func TestCustodyFlowEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pharmtrace_test")
	// Outbox rows must be written; the dispatcher is not running, so they
	// stay PENDING and we can count them.
	t.Setenv("NOTARIZATION_ENABLED", "true")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	// The redis container may be reused across runs; start from a clean cache.
	if err := config.ClearRedis(ctx); err != nil {
		t.Fatalf("ClearRedis: %v", err)
	}

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	adminCtx := utils.SetIsAdminInContext(utils.SetPartyIdInContext(ctx, 1), true)

	// One approved party per chain role.
	partyIds := map[models.HolderRole]int{}
	roles := []models.HolderRole{
		models.HolderRoleManufacturer,
		models.HolderRoleDistributor,
		models.HolderRoleWholesaler,
		models.HolderRoleRetailer,
		models.HolderRolePharmacy,
	}
	for i, role := range roles {
		party, err := models.RegisterParty(ctx, &models.NewParty{
			Name:     fmt.Sprintf("Test %s", role),
			Email:    fmt.Sprintf("%s@test.local", role),
			Phone:    fmt.Sprintf("98765%05d", i+1),
			Password: "s3cret-pw",
			Role:     models.PartyRole(role),
		})
		if err != nil {
			t.Fatalf("RegisterParty(%s): %v", role, err)
		}
		if party.Status != models.ApprovalStatusPending {
			t.Fatalf("chain party %s registered as %s, want pending", role, party.Status)
		}
		if _, err := models.ApproveParty(adminCtx, party.ID); err != nil {
			t.Fatalf("ApproveParty(%s): %v", role, err)
		}
		partyIds[role] = party.ID
	}

	manufacturer := partyIds[models.HolderRoleManufacturer]
	distributor := partyIds[models.HolderRoleDistributor]
	pharmacy := partyIds[models.HolderRolePharmacy]

	// --- Batch creation ---

	batch, err := models.CreateDrugBatch(ctx, &models.NewDrugBatch{
		Name:            "Paracetamol",
		BatchNumber:     "B100",
		ManufacturerId:  manufacturer,
		ManufactureDate: time.Now().UTC().AddDate(0, -1, 0),
		ExpiryDate:      time.Now().UTC().AddDate(2, 0, 0),
		Quantity:        3,
	})
	if err != nil {
		t.Fatalf("CreateDrugBatch: %v", err)
	}
	if len(batch.Units) != 3 {
		t.Fatalf("batch has %d units, want 3", len(batch.Units))
	}
	unitIds := make([]int, 0, 3)
	for _, unit := range batch.Units {
		if !strings.HasPrefix(unit.UnitBarcode, batch.BatchBarcode) {
			t.Errorf("unit barcode %q does not derive from batch barcode %q", unit.UnitBarcode, batch.BatchBarcode)
		}
		if unit.Status != models.UnitStatusInStock || unit.HolderRole != models.HolderRoleManufacturer {
			t.Errorf("new unit = %s at %s, want in-stock at manufacturer", unit.Status, unit.HolderRole)
		}
		unitIds = append(unitIds, unit.ID)
	}
	assertNotaryRows(t, db, batch.BatchBarcode, models.NotaryEventBatchCreated, 1)

	// A duplicate (name, batch number) must be rejected as a conflict.
	_, err = models.CreateDrugBatch(ctx, &models.NewDrugBatch{
		Name:            "Paracetamol",
		BatchNumber:     "B100",
		ManufacturerId:  manufacturer,
		ManufactureDate: time.Now().UTC().AddDate(0, -1, 0),
		ExpiryDate:      time.Now().UTC().AddDate(2, 0, 0),
		Quantity:        1,
	})
	if !utils.IsConflict(err) {
		t.Fatalf("duplicate batch: err = %v, want conflict", err)
	}

	// Barcodes are unique across the unit/batch split: a new batch may not
	// reuse an existing batch barcode as a unit barcode, nor an existing
	// unit barcode as its batch barcode.
	_, err = models.CreateDrugBatch(ctx, &models.NewDrugBatch{
		Name:            "Paracetamol",
		BatchNumber:     "B101",
		ManufacturerId:  manufacturer,
		ManufactureDate: time.Now().UTC().AddDate(0, -1, 0),
		ExpiryDate:      time.Now().UTC().AddDate(2, 0, 0),
		Quantity:        1,
		UnitBarcodes:    []string{batch.BatchBarcode},
	})
	if !utils.IsConflict(err) {
		t.Fatalf("unit barcode reusing a batch barcode: err = %v, want conflict", err)
	}
	_, err = models.CreateDrugBatch(ctx, &models.NewDrugBatch{
		Name:            "Paracetamol",
		BatchNumber:     "B102",
		ManufacturerId:  manufacturer,
		ManufactureDate: time.Now().UTC().AddDate(0, -1, 0),
		ExpiryDate:      time.Now().UTC().AddDate(2, 0, 0),
		Quantity:        1,
		BatchBarcode:    batch.Units[0].UnitBarcode,
	})
	if !utils.IsConflict(err) {
		t.Fatalf("batch barcode reusing a unit barcode: err = %v, want conflict", err)
	}

	// --- Shipment accept path ---

	shipment, err := models.CreateShipment(ctx, &models.NewShipment{
		UnitIds:         unitIds,
		OriginRole:      models.HolderRoleManufacturer,
		OriginId:        manufacturer,
		DestinationRole: models.HolderRoleDistributor,
		DestinationId:   distributor,
	})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	if shipment.Status != models.ShipmentStatusProcessing {
		t.Fatalf("new shipment status = %s, want processing", shipment.Status)
	}

	// While shipped, the units still belong to the origin and cannot be
	// transferred directly.
	err = models.TransferUnits(ctx, unitIds,
		mustHolderRef(t, models.HolderRoleManufacturer, manufacturer),
		mustHolderRef(t, models.HolderRoleDistributor, distributor))
	if !utils.IsConflict(err) {
		t.Fatalf("transfer of shipped units: err = %v, want conflict", err)
	}

	// Only the origin may mark it in-transit.
	originCtx := utils.SetPartyIdInContext(ctx, manufacturer)
	strangerCtx := utils.SetPartyIdInContext(ctx, pharmacy)
	if _, err := models.MarkShipmentInTransit(strangerCtx, shipment.ID); !utils.IsConflict(err) {
		t.Fatalf("in-transit by non-origin: err = %v, want conflict", err)
	}
	shipment, err = models.MarkShipmentInTransit(originCtx, shipment.ID)
	if err != nil {
		t.Fatalf("MarkShipmentInTransit: %v", err)
	}
	if shipment.Status != models.ShipmentStatusInTransit {
		t.Fatalf("shipment status = %s, want in-transit", shipment.Status)
	}

	destCtx := utils.SetPartyIdInContext(ctx, distributor)
	shipment, err = models.AcceptShipment(destCtx, shipment.ID)
	if err != nil {
		t.Fatalf("AcceptShipment: %v", err)
	}
	if shipment.Status != models.ShipmentStatusDelivered || shipment.ActualDelivery == nil {
		t.Fatalf("accepted shipment = %s (delivery %v), want delivered with timestamp", shipment.Status, shipment.ActualDelivery)
	}
	assertUnitsHeld(t, ctx, batch.Units, models.HolderRoleDistributor, distributor, models.UnitStatusInStock)

	// --- Chain transfers down to the pharmacy ---

	if err := models.TransferDistributorToWholesaler(ctx, unitIds, distributor, partyIds[models.HolderRoleWholesaler]); err != nil {
		t.Fatalf("TransferDistributorToWholesaler: %v", err)
	}
	if err := models.TransferWholesalerToRetailer(ctx, unitIds, partyIds[models.HolderRoleWholesaler], partyIds[models.HolderRoleRetailer]); err != nil {
		t.Fatalf("TransferWholesalerToRetailer: %v", err)
	}
	if err := models.TransferRetailerToPharmacy(ctx, unitIds, partyIds[models.HolderRoleRetailer], pharmacy); err != nil {
		t.Fatalf("TransferRetailerToPharmacy: %v", err)
	}

	// A replay of an already-completed transfer loses the conditional
	// update and reports the offending barcodes.
	err = models.TransferDistributorToWholesaler(ctx, unitIds, distributor, partyIds[models.HolderRoleWholesaler])
	if !utils.IsConflict(err) {
		t.Fatalf("replayed transfer: err = %v, want conflict", err)
	}
	var appErr *utils.AppError
	if !errors.As(err, &appErr) || len(appErr.Refs) == 0 {
		t.Fatalf("replayed transfer conflict carries no refs: %v", err)
	}

	// --- Sale ---

	soldBarcode := batch.Units[0].UnitBarcode
	sale, err := models.RecordSale(ctx, soldBarcode, pharmacy, decimal.NewFromFloat(4.50))
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if sale.PharmacyId != pharmacy {
		t.Fatalf("sale pharmacy = %d, want %d", sale.PharmacyId, pharmacy)
	}
	if _, err := models.RecordSale(ctx, soldBarcode, pharmacy, decimal.NewFromFloat(4.50)); !utils.IsConflict(err) {
		t.Fatalf("double sale: err = %v, want conflict", err)
	}

	soldUnit, err := models.GetDrugUnitByBarcode(ctx, soldBarcode)
	if err != nil {
		t.Fatalf("GetDrugUnitByBarcode: %v", err)
	}
	if soldUnit.Status != models.UnitStatusSold || soldUnit.HolderRole != models.HolderRolePharmacy {
		t.Fatalf("sold unit = %s at %s, want sold at pharmacy", soldUnit.Status, soldUnit.HolderRole)
	}

	// --- Provenance over real history ---

	record, err := models.ResolveBarcode(ctx, soldBarcode)
	if err != nil {
		t.Fatalf("ResolveBarcode: %v", err)
	}
	if record.Level != "unit" || record.Status != models.UnitStatusSold {
		t.Fatalf("resolved record = %s/%s, want unit/sold", record.Level, record.Status)
	}
	trace, err := models.TraceChain(ctx, record)
	if err != nil {
		t.Fatalf("TraceChain: %v", err)
	}
	if trace.Synthesized || trace.Confidence != models.ChainConfidenceNormal {
		t.Fatalf("trace over real history = synthesized %v / %s", trace.Synthesized, trace.Confidence)
	}
	if len(trace.MissingLinks) != 0 {
		t.Fatalf("full chain reports missing links %v", trace.MissingLinks)
	}
	if trace.Entries[0].PartyName == "" {
		t.Errorf("party names not filled in on trace entries")
	}

	// --- Shipment reject path ---

	batch2, err := models.CreateDrugBatch(ctx, &models.NewDrugBatch{
		Name:            "Amoxicillin",
		BatchNumber:     "LOT9",
		ManufacturerId:  manufacturer,
		ManufactureDate: time.Now().UTC().AddDate(0, -1, 0),
		ExpiryDate:      time.Now().UTC().AddDate(2, 0, 0),
		Quantity:        2,
	})
	if err != nil {
		t.Fatalf("CreateDrugBatch(second): %v", err)
	}
	unit2Ids := []int{batch2.Units[0].ID, batch2.Units[1].ID}

	ship2, err := models.CreateShipment(ctx, &models.NewShipment{
		UnitIds:         unit2Ids,
		OriginRole:      models.HolderRoleManufacturer,
		OriginId:        manufacturer,
		DestinationRole: models.HolderRoleDistributor,
		DestinationId:   distributor,
	})
	if err != nil {
		t.Fatalf("CreateShipment(second): %v", err)
	}

	historyBefore := custodyEntryCount(t, db, batch2.Units[0].ID)

	ship2, err = models.RejectShipment(destCtx, ship2.ID)
	if err != nil {
		t.Fatalf("RejectShipment: %v", err)
	}
	if ship2.Status != models.ShipmentStatusCancelled {
		t.Fatalf("rejected shipment status = %s, want cancelled", ship2.Status)
	}
	assertUnitsHeld(t, ctx, batch2.Units, models.HolderRoleManufacturer, manufacturer, models.UnitStatusInStock)
	if after := custodyEntryCount(t, db, batch2.Units[0].ID); after != historyBefore {
		t.Fatalf("reject appended history entries: %d -> %d", historyBefore, after)
	}

	// Settling a cancelled shipment again loses the conditional update.
	if _, err := models.AcceptShipment(destCtx, ship2.ID); !utils.IsConflict(err) {
		t.Fatalf("accept of cancelled shipment: err = %v, want conflict", err)
	}

	// --- Recall ---

	changed, err := models.RecallBatch(adminCtx, batch2.ID)
	if err != nil {
		t.Fatalf("RecallBatch: %v", err)
	}
	if changed != 2 {
		t.Fatalf("RecallBatch changed %d units, want 2", changed)
	}
	assertUnitsHeld(t, ctx, batch2.Units, models.HolderRoleManufacturer, manufacturer, models.UnitStatusRecalled)

	// Recall is idempotent: a second pass finds nothing live.
	changed, err = models.RecallBatch(adminCtx, batch2.ID)
	if err != nil {
		t.Fatalf("RecallBatch(repeat): %v", err)
	}
	if changed != 0 {
		t.Fatalf("repeated RecallBatch changed %d units, want 0", changed)
	}

	// Recalling the first batch skips its sold unit.
	changed, err = models.RecallBatch(adminCtx, batch.ID)
	if err != nil {
		t.Fatalf("RecallBatch(first): %v", err)
	}
	if changed != 2 {
		t.Fatalf("RecallBatch over batch with one sold unit changed %d, want 2", changed)
	}
	soldUnit, err = models.GetDrugUnitByBarcode(ctx, soldBarcode)
	if err != nil {
		t.Fatalf("GetDrugUnitByBarcode: %v", err)
	}
	if soldUnit.Status != models.UnitStatusSold {
		t.Fatalf("sold unit became %s after recall, want sold preserved", soldUnit.Status)
	}

	// --- Concurrent transfer contention ---

	batch3, err := models.CreateDrugBatch(ctx, &models.NewDrugBatch{
		Name:            "Ibuprofen",
		BatchNumber:     "IB-1",
		ManufacturerId:  manufacturer,
		ManufactureDate: time.Now().UTC().AddDate(0, -1, 0),
		ExpiryDate:      time.Now().UTC().AddDate(2, 0, 0),
		Quantity:        2,
	})
	if err != nil {
		t.Fatalf("CreateDrugBatch(third): %v", err)
	}
	unit3Ids := []int{batch3.Units[0].ID, batch3.Units[1].ID}
	from := mustHolderRef(t, models.HolderRoleManufacturer, manufacturer)
	to := mustHolderRef(t, models.HolderRoleDistributor, distributor)

	// Two identical postings race; the holder lock plus the conditional
	// update let exactly one through.
	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errCh <- models.TransferUnits(ctx, unit3Ids, from, to)
		}()
	}
	var successes, conflicts int
	for i := 0; i < 2; i++ {
		switch err := <-errCh; {
		case err == nil:
			successes++
		case utils.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("concurrent transfer: unexpected error %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("concurrent transfers: %d successes, %d conflicts, want exactly one of each", successes, conflicts)
	}
	assertUnitsHeld(t, ctx, batch3.Units, models.HolderRoleDistributor, distributor, models.UnitStatusInStock)
	for _, u := range batch3.Units {
		if n := custodyEntryCount(t, db, u.ID); n != 2 {
			t.Fatalf("unit %d has %d custody entries after racing transfers, want 2", u.ID, n)
		}
	}

	// --- Unit-level recall ---

	changed, err = models.RecallUnit(adminCtx, batch3.Units[0].ID)
	if err != nil {
		t.Fatalf("RecallUnit: %v", err)
	}
	if changed != 1 {
		t.Fatalf("RecallUnit changed %d units, want 1", changed)
	}
	changed, err = models.RecallUnit(adminCtx, batch3.Units[0].ID)
	if err != nil {
		t.Fatalf("RecallUnit(repeat): %v", err)
	}
	if changed != 0 {
		t.Fatalf("repeated RecallUnit changed %d units, want 0", changed)
	}
	sibling, err := models.GetDrugUnitByBarcode(ctx, batch3.Units[1].UnitBarcode)
	if err != nil {
		t.Fatalf("GetDrugUnitByBarcode(sibling): %v", err)
	}
	if sibling.Status != models.UnitStatusInStock {
		t.Fatalf("sibling unit became %s after unit-level recall, want in-stock", sibling.Status)
	}
}

func mustHolderRef(t *testing.T, role models.HolderRole, partyId int) models.HolderRef {
	t.Helper()
	ref, err := models.NewHolderRef(role, partyId)
	if err != nil {
		t.Fatalf("NewHolderRef(%s, %d): %v", role, partyId, err)
	}
	return ref
}

func assertUnitsHeld(t *testing.T, ctx context.Context, units []*models.DrugUnit, role models.HolderRole, partyId int, status models.UnitStatus) {
	t.Helper()
	for _, u := range units {
		got, err := models.GetDrugUnitByBarcode(ctx, u.UnitBarcode)
		if err != nil {
			t.Fatalf("GetDrugUnitByBarcode(%s): %v", u.UnitBarcode, err)
		}
		if got.HolderRole != role || got.HolderId == nil || *got.HolderId != partyId || got.Status != status {
			t.Fatalf("unit %s = %s at %s/%v, want %s at %s/%d",
				u.UnitBarcode, got.Status, got.HolderRole, got.HolderId, status, role, partyId)
		}
	}
}

func assertNotaryRows(t *testing.T, db *gorm.DB, batchBarcode, eventType string, want int64) {
	t.Helper()
	var count int64
	err := db.Model(&models.NotarizationRecord{}).
		Where("batch_barcode = ? AND event_type = ?", batchBarcode, eventType).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count notarization records: %v", err)
	}
	if count != want {
		t.Fatalf("%d %s notarization rows for %s, want %d", count, eventType, batchBarcode, want)
	}
}

func custodyEntryCount(t *testing.T, db *gorm.DB, unitId int) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&models.CustodyEntry{}).Where("drug_unit_id = ?", unitId).Count(&count).Error; err != nil {
		t.Fatalf("count custody entries: %v", err)
	}
	return count
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pharmtrace-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pharmtrace-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=pharmtrace_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
