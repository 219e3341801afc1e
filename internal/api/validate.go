package api

import (
	"fmt"
	"time"

	"ecollect/internal/model"
	"ecollect/internal/schedule"
)

func validateItem(it *model.Item) error {
	if it.SenderID == "" {
		return fmt.Errorf("senderId required")
	}
	if it.CategoryID == "" {
		return fmt.Errorf("categoryId required")
	}
	if it.WeightKg < 0 || it.VolumeM3 < 0 {
		return fmt.Errorf("weight and volume must be >= 0")
	}
	if len(it.Schedule) > 0 && schedule.Parse(it.Schedule) == nil {
		return fmt.Errorf("schedule is not a valid slot list")
	}
	return nil
}

func validateAssignmentRequest(req *model.AssignmentRequest) error {
	if len(req.ItemIDs) == 0 {
		return fmt.Errorf("itemIds required")
	}
	if req.WorkDate == "" {
		return fmt.Errorf("workDate required")
	}
	if _, err := time.Parse("2006-01-02", req.WorkDate); err != nil {
		return fmt.Errorf("workDate must be YYYY-MM-DD")
	}
	return nil
}

func validateSolveRequest(pointID, vehicleID, date string, budgetMs int) error {
	if pointID == "" {
		return fmt.Errorf("pointId required")
	}
	if vehicleID == "" {
		return fmt.Errorf("vehicleId required")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	if budgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	return nil
}

func validateCoords(p model.GeoPoint) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("lat must be in [-90,90], lng in [-180,180]")
	}
	return nil
}

func validatePoint(pt *model.CollectionPoint) error {
	if pt.CompanyID == "" {
		return fmt.Errorf("companyId required")
	}
	if pt.Name == "" {
		return fmt.Errorf("name required")
	}
	if pt.RadiusKm < 0 {
		return fmt.Errorf("radiusKm must be >= 0")
	}
	return validateCoords(pt.Location)
}

func validateVehicle(v *model.Vehicle) error {
	if v.PointID == "" {
		return fmt.Errorf("pointId required")
	}
	if v.CapacityKg <= 0 || v.CapacityM3 <= 0 {
		return fmt.Errorf("capacities must be > 0")
	}
	ss, err := schedule.ParseHHMM(v.ShiftStart)
	if err != nil {
		return fmt.Errorf("shiftStart: %v", err)
	}
	se, err := schedule.ParseHHMM(v.ShiftEnd)
	if err != nil {
		return fmt.Errorf("shiftEnd: %v", err)
	}
	if se <= ss {
		return fmt.Errorf("shiftEnd must be after shiftStart")
	}
	return nil
}

func validateCompany(c *model.Company) error {
	if c.Name == "" {
		return fmt.Errorf("name required")
	}
	if c.Role != model.RoleCollector && c.Role != model.RoleRecycler {
		return fmt.Errorf("role must be collector or recycler")
	}
	if c.Ratio < 0 {
		return fmt.Errorf("ratio must be >= 0")
	}
	return nil
}
